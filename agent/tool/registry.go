package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/fitlabs/respond-agent/agent/contract"
)

const defaultInvokeTimeout = 15 * time.Second

// Handler executes one tool call. Handlers must be idempotent from the
// caller's perspective: retrying a call is always safe.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool pairs the catalog entry exposed to the generation capability with its
// executable handler.
type Tool struct {
	Info *schema.ToolInfo
	Run  Handler
}

// Registry maps tool names to invocable capabilities. Every invocation is
// bounded by the configured timeout regardless of handler behavior.
type Registry struct {
	timeout time.Duration
	tools   map[string]Tool
	order   []string
}

func NewRegistry(timeout time.Duration, tools ...Tool) (*Registry, error) {
	if timeout <= 0 {
		timeout = defaultInvokeTimeout
	}

	byName := make(map[string]Tool, len(tools))
	order := make([]string, 0, len(tools))
	for _, t := range tools {
		if t.Info == nil || t.Info.Name == "" {
			return nil, fmt.Errorf("tool info with a name is required")
		}
		if t.Run == nil {
			return nil, fmt.Errorf("tool=%s has no handler", t.Info.Name)
		}
		if _, exists := byName[t.Info.Name]; exists {
			return nil, fmt.Errorf("tool=%s registered twice", t.Info.Name)
		}
		byName[t.Info.Name] = t
		order = append(order, t.Info.Name)
	}

	return &Registry{
		timeout: timeout,
		tools:   byName,
		order:   order,
	}, nil
}

// Infos returns the tool catalog in registration order.
func (r *Registry) Infos() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		infos = append(infos, r.tools[name].Info)
	}
	return infos
}

// Invoke runs the named tool. Unknown tools and timeouts come back as
// ErrToolFailure / ErrTimeout; callers feed these into the generation loop
// rather than failing the pipeline.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown tool=%s", contractx.ErrToolFailure, name)
	}

	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type invokeResult struct {
		out string
		err error
	}
	done := make(chan invokeResult, 1)

	go func() {
		out, err := t.Run(tctx, args)
		done <- invokeResult{out: out, err: err}
	}()

	select {
	case <-tctx.Done():
		return "", fmt.Errorf("%w: tool=%s exceeded %s", contractx.ErrTimeout, name, r.timeout)
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("%w: tool=%s: %v", contractx.ErrToolFailure, name, res.err)
		}
		return res.out, nil
	}
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
