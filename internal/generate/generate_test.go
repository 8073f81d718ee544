package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
)

func TestFailureOf(t *testing.T) {
	if FailureOf(nil) != nil {
		t.Fatal("nil error should yield nil failure")
	}

	f := FailureOf(Terminal(CodeLowQualityOutput, "too thin"))
	if f.Code != CodeLowQualityOutput || f.Retryable {
		t.Fatalf("terminal failure misclassified: %+v", f)
	}

	wrapped := fmt.Errorf("invoke: %w", Retryable(CodeTimeout, "deadline"))
	f = FailureOf(wrapped)
	if f.Code != CodeTimeout || !f.Retryable {
		t.Fatalf("wrapped failure misclassified: %+v", f)
	}

	f = FailureOf(errors.New("connection reset"))
	if f.Code != CodeGenerationError || !f.Retryable {
		t.Fatalf("unclassified error should be retryable generation error: %+v", f)
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt, err := BuildPrompt(Request{
		Stage: domain.StageDraft,
		Input: domain.Metadata{"topic": "launching a podcast", "tone": "casual"},
		Prior: domain.Metadata{"content": "1. Intro\n2. Gear\n3. Publishing"},
	})
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	for _, want := range []string{"launching a podcast", "Tone: casual", "Previous stage output", "1. Intro"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	if _, err := BuildPrompt(Request{Stage: "bogus"}); err == nil {
		t.Fatal("unknown stage should fail")
	}
	f := FailureOf(err)
	if f != nil && f.Retryable {
		t.Fatal("unknown stage should be a terminal failure")
	}
}

type scriptedModel struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (m *scriptedModel) GenerateText(_ context.Context, prompt string) (string, error) {
	i := m.calls
	m.calls++
	m.prompts = append(m.prompts, prompt)
	var err error
	if i < len(m.errs) {
		err = m.errs[i]
	}
	var resp string
	if i < len(m.responses) {
		resp = m.responses[i]
	}
	return resp, err
}

func draftRequest() Request {
	return Request{
		ProjectID: "proj-1",
		Stage:     domain.StageDraft,
		Input:     domain.Metadata{"topic": "home espresso"},
	}
}

func longContent() string {
	return strings.Repeat("Grind fresh beans and dial in the shot. ", 10)
}

func TestGeminiCapabilityGenerate(t *testing.T) {
	model := &scriptedModel{responses: []string{longContent()}}
	c := &GeminiCapability{model: model, logger: slog.Default()}

	out, err := c.Generate(context.Background(), draftRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if model.calls != 1 {
		t.Fatalf("calls = %d, want 1", model.calls)
	}
	if content, _ := out["content"].(string); !strings.Contains(content, "espresso") && len(content) < minContentLength {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestGeminiCapabilityRepromptsWeakResponse(t *testing.T) {
	model := &scriptedModel{responses: []string{"ok", longContent()}}
	c := &GeminiCapability{model: model, logger: slog.Default()}

	if _, err := c.Generate(context.Background(), draftRequest()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if model.calls != 2 {
		t.Fatalf("calls = %d, want 2", model.calls)
	}
	if !strings.Contains(model.prompts[1], "Important:") {
		t.Fatal("second prompt should carry the reinforcement")
	}
}

func TestGeminiCapabilityLowQualityAfterReprompt(t *testing.T) {
	model := &scriptedModel{responses: []string{"ok", "still ok"}}
	c := &GeminiCapability{model: model, logger: slog.Default()}

	_, err := c.Generate(context.Background(), draftRequest())
	f := FailureOf(err)
	if f == nil || f.Code != CodeLowQualityOutput || f.Retryable {
		t.Fatalf("expected terminal low quality failure, got %v", err)
	}
}

func TestGeminiCapabilityClassifiesErrors(t *testing.T) {
	model := &scriptedModel{errs: []error{context.DeadlineExceeded}}
	c := &GeminiCapability{model: model, logger: slog.Default()}

	_, err := c.Generate(context.Background(), draftRequest())
	f := FailureOf(err)
	if f == nil || f.Code != CodeTimeout || !f.Retryable {
		t.Fatalf("expected retryable timeout, got %v", err)
	}
}
