package env

import (
	"testing"
	"time"
)

func TestStringDefault(t *testing.T) {
	if got := String("DRAFTFORGE_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("DRAFTFORGE_TEST_SET", "value")
	if got := String("DRAFTFORGE_TEST_SET", "fallback"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
}

func TestRequired(t *testing.T) {
	if _, err := Required("DRAFTFORGE_TEST_MISSING"); err == nil {
		t.Fatalf("expected error for missing key")
	}
	t.Setenv("DRAFTFORGE_TEST_PRESENT", "v")
	got, err := Required("DRAFTFORGE_TEST_PRESENT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "v" {
		t.Fatalf("expected v, got %q", got)
	}
}

func TestDuration(t *testing.T) {
	d, err := Duration("DRAFTFORGE_TEST_DUR_UNSET", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 5*time.Second {
		t.Fatalf("expected default, got %v", d)
	}

	t.Setenv("DRAFTFORGE_TEST_DUR", "250ms")
	d, err = Duration("DRAFTFORGE_TEST_DUR", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", d)
	}

	t.Setenv("DRAFTFORGE_TEST_DUR_BAD", "not-a-duration")
	if _, err := Duration("DRAFTFORGE_TEST_DUR_BAD", time.Second); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestIntAndBool(t *testing.T) {
	t.Setenv("DRAFTFORGE_TEST_INT", "42")
	i, err := Int("DRAFTFORGE_TEST_INT", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if i != 42 {
		t.Fatalf("expected 42, got %d", i)
	}

	t.Setenv("DRAFTFORGE_TEST_BOOL", "true")
	b, err := Bool("DRAFTFORGE_TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b {
		t.Fatalf("expected true")
	}
}
