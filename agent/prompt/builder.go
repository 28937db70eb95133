package prompt

import (
	"fmt"
	"strings"
	"text/template"

	statex "github.com/fitlabs/respond-agent/agent/state"
)

// Builder renders system and user prompts for a trigger type. Output is
// guaranteed non-empty for every trigger type, including "none".
type Builder struct {
	system    map[statex.TriggerType]*template.Template
	user      *template.Template
	humanizer *template.Template
}

type systemInput struct {
	Profile map[string]any
}

type userInput struct {
	Message string
	History []statex.Turn
}

// HumanizerInput feeds the humanizer rewrite template.
type HumanizerInput struct {
	Text      string
	TimeOfDay string
}

func NewBuilder(set Set) (*Builder, error) {
	system := make(map[statex.TriggerType]*template.Template, len(set.System))
	for kind, raw := range set.System {
		if strings.TrimSpace(raw) == "" {
			return nil, fmt.Errorf("system template for trigger=%s is empty", kind)
		}
		tpl, err := template.New("system_" + string(kind)).Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse system template for trigger=%s: %w", kind, err)
		}
		system[kind] = tpl
	}
	if _, ok := system[statex.TriggerNone]; !ok {
		return nil, fmt.Errorf("system template for trigger=%s is required", statex.TriggerNone)
	}

	user, err := template.New("user").Parse(set.User)
	if err != nil {
		return nil, fmt.Errorf("parse user template: %w", err)
	}
	humanizer, err := template.New("humanizer").Parse(set.Humanizer)
	if err != nil {
		return nil, fmt.Errorf("parse humanizer template: %w", err)
	}

	return &Builder{
		system:    system,
		user:      user,
		humanizer: humanizer,
	}, nil
}

// BuildSystem renders the system prompt for the trigger type. Unknown trigger
// types fall back to the "none" template so the output is never empty.
func (b *Builder) BuildSystem(kind statex.TriggerType, profile map[string]any) (string, error) {
	tpl, ok := b.system[kind]
	if !ok {
		tpl = b.system[statex.TriggerNone]
	}

	var sb strings.Builder
	if err := tpl.Execute(&sb, systemInput{Profile: profile}); err != nil {
		return "", fmt.Errorf("render system prompt for trigger=%s: %w", kind, err)
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("system prompt for trigger=%s rendered empty", kind)
	}
	return out, nil
}

func (b *Builder) BuildUser(message string, history []statex.Turn) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("user message is empty")
	}

	var sb strings.Builder
	err := b.user.Execute(&sb, userInput{
		Message: message,
		History: history,
	})
	if err != nil {
		return "", fmt.Errorf("render user prompt: %w", err)
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("user prompt rendered empty")
	}
	return out, nil
}

func (b *Builder) BuildHumanizer(in HumanizerInput) (string, error) {
	var sb strings.Builder
	if err := b.humanizer.Execute(&sb, in); err != nil {
		return "", fmt.Errorf("render humanizer prompt: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}
