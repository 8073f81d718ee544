package requestid

import "testing"

func TestNewUnique(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a) != 36 || len(b) != 36 {
		t.Fatalf("expected uuid-formatted ids, got %q %q", a, b)
	}
	if a == b {
		t.Fatalf("expected unique ids")
	}
}
