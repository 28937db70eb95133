package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
	promptx "github.com/fitlabs/respond-agent/agent/prompt"
	openrouterx "github.com/fitlabs/respond-agent/pkg/openrouter"
)

// Humanizer rewrites the structured draft into a conversational reply.
type Humanizer struct {
	model   einomodel.BaseChatModel
	prompts *promptx.Builder
	now     func() time.Time
}

var _ contractx.Humanizer = (*Humanizer)(nil)

func NewHumanizer(
	ctx context.Context,
	builder openrouterx.LLMBuilder,
	prompts *promptx.Builder,
	now func() time.Time,
) (*Humanizer, error) {
	if prompts == nil {
		return nil, fmt.Errorf("%w: prompt builder is required", contractx.ErrValidation)
	}
	if now == nil {
		now = time.Now
	}

	m, err := builder.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create humanizer model: %v", contractx.ErrUpstream, err)
	}

	return &Humanizer{
		model:   m,
		prompts: prompts,
		now:     now,
	}, nil
}

func (h *Humanizer) Humanize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: nothing to humanize", contractx.ErrValidation)
	}

	userPrompt, err := h.prompts.BuildHumanizer(promptx.HumanizerInput{
		Text:      text,
		TimeOfDay: timeOfDay(h.now()),
	})
	if err != nil {
		return "", fmt.Errorf("%w: build humanizer prompt: %v", contractx.ErrValidation, err)
	}

	resp, err := h.model.Generate(ctx, []*schema.Message{
		schema.UserMessage(userPrompt),
	})
	if err != nil {
		return "", fmt.Errorf("%w: humanizer generate: %v", contractx.ErrUpstream, err)
	}

	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", fmt.Errorf("%w: humanizer returned empty reply", contractx.ErrUpstream)
	}
	return out, nil
}

func timeOfDay(t time.Time) string {
	switch hour := t.Hour(); {
	case hour < 6:
		return "night"
	case hour < 12:
		return "morning"
	case hour < 18:
		return "afternoon"
	default:
		return "evening"
	}
}
