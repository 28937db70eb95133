package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
	toolx "github.com/fitlabs/respond-agent/agent/tool"
	openrouterx "github.com/fitlabs/respond-agent/pkg/openrouter"
)

// Generator produces the structured draft reply, resolving tool calls up to a
// fixed depth. When the depth is exhausted it returns the configured fallback
// reply together with ErrGenerationLimit so callers can degrade gracefully.
type Generator struct {
	model    einomodel.ToolCallingChatModel
	tools    *toolx.Registry
	maxDepth int
	fallback string
}

var _ contractx.Generator = (*Generator)(nil)

func NewGenerator(
	ctx context.Context,
	builder openrouterx.LLMBuilder,
	registry *toolx.Registry,
	maxDepth int,
	fallback string,
) (*Generator, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: tool registry is required", contractx.ErrValidation)
	}
	if maxDepth <= 0 {
		return nil, fmt.Errorf("%w: max tool depth must be positive", contractx.ErrValidation)
	}

	base, err := builder.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create generator model: %v", contractx.ErrUpstream, err)
	}
	bound, err := base.WithTools(registry.Infos())
	if err != nil {
		return nil, fmt.Errorf("%w: bind tools: %v", contractx.ErrUpstream, err)
	}

	return &Generator{
		model:    bound,
		tools:    registry,
		maxDepth: maxDepth,
		fallback: fallback,
	}, nil
}

// agentReply is the JSON envelope the system prompts instruct the model to
// return.
type agentReply struct {
	Response   string `json:"response"`
	Escalation struct {
		Needed bool   `json:"needed"`
		Reason string `json:"reason"`
	} `json:"escalation"`
}

func (g *Generator) Generate(ctx context.Context, systemPrompt, userPrompt string) (contractx.GenerationResult, error) {
	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt),
	}

	for depth := 0; depth < g.maxDepth; depth++ {
		resp, err := g.model.Generate(ctx, messages)
		if err != nil {
			return contractx.GenerationResult{}, fmt.Errorf("%w: model generate: %v", contractx.ErrUpstream, err)
		}
		messages = append(messages, resp)

		if len(resp.ToolCalls) == 0 {
			return parseAgentReply(resp.Content), nil
		}

		for _, call := range resp.ToolCalls {
			messages = append(messages, g.resolveToolCall(ctx, call))
		}
	}

	log.Warn().Int("max_depth", g.maxDepth).Msg("generation hit tool call depth bound, using fallback reply")
	return contractx.GenerationResult{ResponseText: g.fallback},
		fmt.Errorf("%w: tool call depth %d exhausted", contractx.ErrGenerationLimit, g.maxDepth)
}

// resolveToolCall always yields a tool message. Failures and timeouts are
// reported back to the model as text so generation can recover or reroute.
func (g *Generator) resolveToolCall(ctx context.Context, call schema.ToolCall) *schema.Message {
	name := call.Function.Name

	var args map[string]any
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			log.Warn().Str("tool", name).Err(err).Msg("malformed tool arguments")
			return schema.ToolMessage(fmt.Sprintf("tool %s failed: malformed arguments", name), call.ID)
		}
	}

	out, err := g.tools.Invoke(ctx, name, args)
	if err != nil {
		log.Warn().Str("tool", name).Err(err).Msg("tool invocation failed")
		return schema.ToolMessage(fmt.Sprintf("tool %s failed: %v", name, err), call.ID)
	}
	return schema.ToolMessage(out, call.ID)
}

// parseAgentReply decodes the JSON envelope from the model output. Anything
// that does not parse is treated as a plain-text reply without escalation.
func parseAgentReply(content string) contractx.GenerationResult {
	raw := extractJSONObject(content)
	if raw == "" {
		return contractx.GenerationResult{ResponseText: strings.TrimSpace(content)}
	}

	var reply agentReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil || strings.TrimSpace(reply.Response) == "" {
		return contractx.GenerationResult{ResponseText: strings.TrimSpace(content)}
	}

	result := contractx.GenerationResult{
		ResponseText:     strings.TrimSpace(reply.Response),
		EscalationNeeded: reply.Escalation.Needed,
		EscalationReason: strings.TrimSpace(reply.Escalation.Reason),
	}
	if result.EscalationNeeded && result.EscalationReason == "" {
		result.EscalationReason = "unspecified"
	}
	if !result.EscalationNeeded {
		result.EscalationReason = ""
	}
	return result
}

// extractJSONObject pulls the outermost {...} span from content, tolerating
// markdown fences and prose around the JSON.
func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}
