package pipeline

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	nodex "github.com/fitlabs/respond-agent/agent/nodes"
	statex "github.com/fitlabs/respond-agent/agent/state"
)

// compileGraph wires the fixed pipeline: a linear chain of stages with two
// routers. Every stage persists the snapshot before the next router or stage
// observes it.
func (e *Engine) compileGraph(ctx context.Context) (compose.Runnable[nodex.GraphInput, *statex.ConversationState], error) {
	graph := compose.NewGraph[nodex.GraphInput, *statex.ConversationState]()

	if err := graph.AddLambdaNode("extract",
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			gs, err := nodex.Extract(in, e.now())
			if err != nil {
				return nil, err
			}
			e.persist(ctx, gs.State)
			return gs, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node extract: %w", err)
	}

	stage := func(name string, fn func(ctx context.Context, gs *nodex.GraphState) (*nodex.GraphState, error)) error {
		return graph.AddLambdaNode(name,
			compose.InvokableLambda(func(ctx context.Context, gs *nodex.GraphState) (*nodex.GraphState, error) {
				out, err := fn(ctx, gs)
				if err != nil {
					return nil, err
				}
				e.persist(ctx, out.State)
				return out, nil
			}),
		)
	}

	if err := stage("fetch_context", func(ctx context.Context, gs *nodex.GraphState) (*nodex.GraphState, error) {
		return nodex.FetchContext(ctx, gs, e.deps.Provider)
	}); err != nil {
		return nil, fmt.Errorf("add node fetch_context: %w", err)
	}

	if err := stage(nodex.NodeSelectTrigger, func(ctx context.Context, gs *nodex.GraphState) (*nodex.GraphState, error) {
		return nodex.SelectTrigger(gs, e.cfg.TriggerPriority)
	}); err != nil {
		return nil, fmt.Errorf("add node select_trigger: %w", err)
	}

	if err := stage("build_prompts", func(ctx context.Context, gs *nodex.GraphState) (*nodex.GraphState, error) {
		return nodex.BuildPrompts(gs, e.deps.Prompts)
	}); err != nil {
		return nil, fmt.Errorf("add node build_prompts: %w", err)
	}

	if err := stage("generate", func(ctx context.Context, gs *nodex.GraphState) (*nodex.GraphState, error) {
		return nodex.Generate(ctx, gs, e.deps.Generator)
	}); err != nil {
		return nil, fmt.Errorf("add node generate: %w", err)
	}

	if err := stage("humanize", func(ctx context.Context, gs *nodex.GraphState) (*nodex.GraphState, error) {
		return nodex.Humanize(ctx, gs, e.deps.Humanizer)
	}); err != nil {
		return nil, fmt.Errorf("add node humanize: %w", err)
	}

	if err := stage("deliver", func(ctx context.Context, gs *nodex.GraphState) (*nodex.GraphState, error) {
		return nodex.Deliver(ctx, gs, e.deps.Deliverer, e.deps.Store, e.deps.MsgLog, e.now())
	}); err != nil {
		return nil, fmt.Errorf("add node deliver: %w", err)
	}

	if err := stage(nodex.NodeEscalate, func(ctx context.Context, gs *nodex.GraphState) (*nodex.GraphState, error) {
		return nodex.Escalate(ctx, gs, e.deps.Notifier, e.deps.Publisher, e.cfg.EscalationRetryDestination)
	}); err != nil {
		return nil, fmt.Errorf("add node escalate: %w", err)
	}

	if err := graph.AddLambdaNode(nodex.NodeFinalize,
		compose.InvokableLambda(func(ctx context.Context, gs *nodex.GraphState) (*statex.ConversationState, error) {
			st, err := nodex.Finalize(gs, e.now())
			if err != nil {
				return nil, err
			}
			e.persist(ctx, st)
			return st, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize: %w", err)
	}

	checkData := compose.NewGraphBranch(
		func(ctx context.Context, gs *nodex.GraphState) (string, error) {
			return nodex.CheckData(gs)
		},
		map[string]bool{
			nodex.NodeSelectTrigger: true,
			nodex.NodeFinalize:      true,
		},
	)
	shouldEscalate := compose.NewGraphBranch(
		func(ctx context.Context, gs *nodex.GraphState) (string, error) {
			return nodex.ShouldEscalate(gs)
		},
		map[string]bool{
			nodex.NodeEscalate: true,
			nodex.NodeFinalize: true,
		},
	)

	edges := [][2]string{
		{compose.START, "extract"},
		{"extract", "fetch_context"},
		{nodex.NodeSelectTrigger, "build_prompts"},
		{"build_prompts", "generate"},
		{"generate", "humanize"},
		{"humanize", "deliver"},
		{nodex.NodeEscalate, nodex.NodeFinalize},
		{nodex.NodeFinalize, compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	if err := graph.AddBranch("fetch_context", checkData); err != nil {
		return nil, fmt.Errorf("add check_data branch: %w", err)
	}
	if err := graph.AddBranch("deliver", shouldEscalate); err != nil {
		return nil, fmt.Errorf("add should_escalate branch: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("respond.pipeline"))
	if err != nil {
		return nil, fmt.Errorf("compile pipeline graph: %w", err)
	}
	return runner, nil
}
