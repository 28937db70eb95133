package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
	nodex "github.com/fitlabs/respond-agent/agent/nodes"
	promptx "github.com/fitlabs/respond-agent/agent/prompt"
	statex "github.com/fitlabs/respond-agent/agent/state"
)

const (
	defaultLeaseTTL           = 60 * time.Second
	defaultLeaseRetryInterval = 200 * time.Millisecond
)

// Config tunes engine behavior; zero values fall back to defaults.
type Config struct {
	LeaseTTL           time.Duration
	LeaseRetryInterval time.Duration
	TriggerPriority    []statex.TriggerType

	// EscalationRetryDestination is the async publish target used when the
	// escalation notifier is unreachable. Empty disables the retry hand-off.
	EscalationRetryDestination string
}

// Deps are the engine's collaborators. Store, Prompts, Generator, Humanizer
// and Deliverer are required; the rest degrade to no-ops when nil.
type Deps struct {
	Store     statex.Store
	Provider  contractx.ContextProvider
	Prompts   *promptx.Builder
	Generator contractx.Generator
	Humanizer contractx.Humanizer
	Deliverer contractx.Deliverer
	Notifier  contractx.Notifier
	Publisher contractx.Publisher
	MsgLog    contractx.MessageLogger
}

// Engine runs the conversation pipeline: one run per inbound message, one
// in-flight run per chat, state persisted after every stage.
type Engine struct {
	deps Deps
	cfg  Config
	now  func() time.Time

	runner compose.Runnable[nodex.GraphInput, *statex.ConversationState]
}

func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("state store is required")
	}
	if deps.Prompts == nil {
		return nil, errors.New("prompt builder is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if deps.Humanizer == nil {
		return nil, errors.New("humanizer is required")
	}
	if deps.Deliverer == nil {
		return nil, errors.New("deliverer is required")
	}

	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	if cfg.LeaseRetryInterval <= 0 {
		cfg.LeaseRetryInterval = defaultLeaseRetryInterval
	}
	if len(cfg.TriggerPriority) == 0 {
		cfg.TriggerPriority = statex.DefaultTriggerPriority
	}
	for _, kind := range cfg.TriggerPriority {
		if !kind.Valid() || kind == statex.TriggerNone {
			return nil, fmt.Errorf("invalid trigger priority entry %q", kind)
		}
	}

	e := &Engine{
		deps: deps,
		cfg:  cfg,
		now:  time.Now,
	}

	runner, err := e.compileGraph(context.Background())
	if err != nil {
		return nil, err
	}
	e.runner = runner

	return e, nil
}

// Run executes one pipeline run for the inbound message. Runs for the same
// chat are serialized through the store lease; Run blocks until the lease is
// acquired or ctx is done.
func (e *Engine) Run(ctx context.Context, msg contractx.InboundMessage) (*statex.ConversationState, error) {
	chatID := strings.TrimSpace(msg.ChatID)
	if chatID == "" {
		return nil, fmt.Errorf("%w: chat id is required", contractx.ErrValidation)
	}
	msg.ChatID = chatID

	token, err := e.acquireLease(ctx, chatID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := e.deps.Store.ReleaseLease(context.WithoutCancel(ctx), chatID, token); err != nil {
			log.Warn().Str("chat_id", chatID).Err(err).Msg("lease release failed")
		}
	}()

	prior, err := e.deps.Store.LoadSnapshot(ctx, chatID)
	if err != nil && !errors.Is(err, statex.ErrStateNotFound) {
		return nil, fmt.Errorf("%w: load snapshot: %v", contractx.ErrUpstream, err)
	}

	history, err := e.deps.Store.History(ctx, chatID)
	if err != nil {
		log.Warn().Str("chat_id", chatID).Err(err).Msg("history load failed, continuing with snapshot history")
		history = nil
	}

	return e.runner.Invoke(ctx, nodex.GraphInput{
		Message: msg,
		Prior:   prior,
		History: history,
	})
}

func (e *Engine) acquireLease(ctx context.Context, chatID string) (string, error) {
	for {
		token, err := e.deps.Store.AcquireLease(ctx, chatID, e.cfg.LeaseTTL)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, statex.ErrLeaseHeld) {
			return "", fmt.Errorf("%w: acquire lease: %v", contractx.ErrUpstream, err)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: waiting for conversation lease: %v", contractx.ErrTimeout, ctx.Err())
		case <-time.After(e.cfg.LeaseRetryInterval):
		}
	}
}

// persist writes the snapshot after a stage. A failed write is logged, not
// fatal: the run still owes the user a reply.
func (e *Engine) persist(ctx context.Context, st *statex.ConversationState) {
	if st == nil {
		return
	}
	st.Touch(e.now())
	if err := e.deps.Store.SaveSnapshot(ctx, st); err != nil {
		log.Error().Str("chat_id", st.ChatID).Str("stage", st.Stage).Err(err).Msg("snapshot persist failed")
	}
}
