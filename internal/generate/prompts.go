package generate

import (
	"fmt"
	"strings"

	"github.com/draftforge-labs/draftforge-go/internal/domain"
)

// stagePrompts frame the model as a specialist for each pipeline stage.
var stagePrompts = map[domain.StageType]string{
	domain.StagePlan: "You are a professional content strategist. Produce a concrete content plan " +
		"for the topic below: target audience, core message, angle, and three hook options.",
	domain.StageStructure: "You are a professional content editor. Turn the plan below into a full " +
		"outline: titled sections in order, with one sentence per section describing its purpose.",
	domain.StageDraft: "You are a professional writer. Write the complete draft following the outline " +
		"below. Write usable prose, not a summary of what you would write.",
	domain.StageQuality: "You are a senior editor. Revise the draft below for clarity, flow, and " +
		"factual consistency. Return the full revised text, not a list of suggestions.",
	domain.StagePlatform: "You are a platform content specialist. Adapt the text below for the target " +
		"platform: fit its format and tone, and add a title, description, and tags where the platform uses them.",
}

const reinforcement = "Important: do not restate the request. Produce the complete, ready-to-use " +
	"content right now, with concrete details and examples."

// BuildPrompt assembles the stage prompt from the request's input fields
// and the preceding stage's output.
func BuildPrompt(req Request) (string, error) {
	base, ok := stagePrompts[req.Stage]
	if !ok {
		return "", Terminal(CodeInvalidInput, "no prompt for stage %q", req.Stage)
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n")

	topic, _ := req.Input["topic"].(string)
	if strings.TrimSpace(topic) != "" {
		fmt.Fprintf(&b, "Topic: %s\n", strings.TrimSpace(topic))
	}
	for _, key := range []string{"audience", "tone", "length", "platform"} {
		if v, _ := req.Input[key].(string); strings.TrimSpace(v) != "" {
			fmt.Fprintf(&b, "%s%s: %s\n", strings.ToUpper(key[:1]), key[1:], strings.TrimSpace(v))
		}
	}

	if prior, _ := req.Prior["content"].(string); strings.TrimSpace(prior) != "" {
		b.WriteString("\nPrevious stage output:\n")
		b.WriteString(strings.TrimSpace(prior))
		b.WriteString("\n")
	}
	return b.String(), nil
}
