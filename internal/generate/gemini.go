package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
	"github.com/draftforge-labs/draftforge-go/internal/platform/env"
)

const minContentLength = 200

// textModel is the subset of the Gemini client the capability uses.
// Swappable in tests.
type textModel interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

type geminiModel struct {
	client *genai.Client
	model  string
}

func (m *geminiModel) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := m.client.Models.GenerateContent(ctx, m.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini api: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", Retryable(CodeEmptyResponse, "gemini returned no candidates")
	}
	var content strings.Builder
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			content.WriteString(part.Text)
		}
	}
	return content.String(), nil
}

// GeminiCapability generates stage content with the Gemini API. Responses
// that merely echo the request or come back too short get one reinforced
// re-prompt before the attempt is declared low quality.
type GeminiCapability struct {
	model  textModel
	logger *slog.Logger
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

func GeminiConfigFromEnv() GeminiConfig {
	return GeminiConfig{
		APIKey: env.String("GEMINI_API_KEY", ""),
		Model:  env.String("GEMINI_MODEL", "gemini-2.0-flash"),
	}
}

func NewGeminiCapability(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*GeminiCapability, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiCapability{
		model:  &geminiModel{client: client, model: model},
		logger: logger,
	}, nil
}

func (c *GeminiCapability) Generate(ctx context.Context, req Request) (domain.Metadata, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	content, err := c.model.GenerateText(ctx, prompt)
	if err != nil {
		return nil, c.classify(err)
	}

	if weakResponse(prompt, content) {
		c.logger.Info("re-prompting after weak response",
			"project_id", req.ProjectID,
			"stage", string(req.Stage),
			"length", len(content))
		content, err = c.model.GenerateText(ctx, prompt+"\n\n"+reinforcement)
		if err != nil {
			return nil, c.classify(err)
		}
		if weakResponse(prompt, content) {
			return nil, Terminal(CodeLowQualityOutput, "response stayed below quality bar after re-prompt")
		}
	}

	c.logger.Info("stage content generated",
		"project_id", req.ProjectID,
		"stage", string(req.Stage),
		"length", len(content),
		"duration", time.Since(started).String())

	return domain.Metadata{
		"content":   content,
		"model":     "gemini",
		"generated": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (c *GeminiCapability) classify(err error) error {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable(CodeTimeout, "generation timed out")
	}
	return Retryable(CodeGenerationError, "%v", err)
}

// weakResponse flags output that is too short to be usable or that mostly
// repeats the prompt back.
func weakResponse(prompt, content string) bool {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < minContentLength {
		return true
	}
	promptHead := strings.TrimSpace(prompt)
	if len(promptHead) > 80 {
		promptHead = promptHead[:80]
	}
	return strings.Contains(trimmed, promptHead)
}
