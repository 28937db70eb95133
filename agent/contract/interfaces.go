package contract

import (
	"context"
	"time"
)

// ContextProvider fetches the persisted conversation context for a chat.
type ContextProvider interface {
	ConversationContext(ctx context.Context, chatID string) (*ConversationContext, error)
}

// Generator is the language-generation capability: given a system instruction
// and a user instruction it produces either a final answer or, internally,
// a bounded sequence of tool invocations ending in a final answer.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (GenerationResult, error)
}

// Humanizer rewrites a raw generation output for tone and register.
type Humanizer interface {
	Humanize(ctx context.Context, text string) (string, error)
}

// Deliverer sends the outbound message through the delivery channel.
// A nil error means delivery is confirmed.
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
}

// Notifier alerts the human-facing channel about an escalated conversation.
type Notifier interface {
	Notify(ctx context.Context, n EscalationNotice) error
}

// Publisher hands a payload off for asynchronous retry outside this run.
type Publisher interface {
	Publish(ctx context.Context, destination string, payload any) error
}

// MessageLogger records delivered turns in the durable message log.
type MessageLogger interface {
	LogMessage(ctx context.Context, chatID, sender, text string, at time.Time) error
}
