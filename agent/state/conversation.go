package state

import (
	"errors"
	"fmt"
	"time"
)

// TriggerType is the closed enumeration of conversational intents a run
// handles. Exactly one value is selected per invocation.
type TriggerType string

const (
	TriggerPaymentDue      TriggerType = "payment_due"
	TriggerProgramFinished TriggerType = "program_finished"
	TriggerFirstTraining   TriggerType = "first_training"
	TriggerNoActivity      TriggerType = "no_activity"
	TriggerNone            TriggerType = "none"
)

// DefaultTriggerPriority is the policy order used when none is configured:
// highest-priority true flag wins, otherwise "none".
var DefaultTriggerPriority = []TriggerType{
	TriggerPaymentDue,
	TriggerProgramFinished,
	TriggerFirstTraining,
	TriggerNoActivity,
}

func (t TriggerType) Valid() bool {
	switch t {
	case TriggerPaymentDue, TriggerProgramFinished, TriggerFirstTraining, TriggerNoActivity, TriggerNone:
		return true
	}
	return false
}

// Triggers is the set of boolean flags derived from the user profile.
type Triggers struct {
	PaymentDue      bool `json:"payment_due"`
	ProgramFinished bool `json:"program_finished"`
	FirstTraining   bool `json:"first_training"`
	NoActivity      bool `json:"no_activity"`
}

func (t Triggers) flag(kind TriggerType) bool {
	switch kind {
	case TriggerPaymentDue:
		return t.PaymentDue
	case TriggerProgramFinished:
		return t.ProgramFinished
	case TriggerFirstTraining:
		return t.FirstTraining
	case TriggerNoActivity:
		return t.NoActivity
	}
	return false
}

// Select returns the highest-priority true flag per the given order,
// or TriggerNone when no flag is set. Deterministic for identical input.
func (t Triggers) Select(order []TriggerType) TriggerType {
	if len(order) == 0 {
		order = DefaultTriggerPriority
	}
	for _, kind := range order {
		if t.flag(kind) {
			return kind
		}
	}
	return TriggerNone
}

// Turn is one persisted history entry. History is append-only, oldest-first.
type Turn struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// Error kinds recorded on ConversationState.ErrorKind.
const (
	ErrorKindValidation = "validation"
	ErrorKindUpstream   = "upstream"
)

// ConversationState is the single object threaded through the pipeline.
// It is mutated only by stages, strictly in pipeline order, and persisted
// after every stage transition.
type ConversationState struct {
	// Identity
	ChatID    string `json:"chat_id"`
	SenderID  string `json:"sender_id,omitempty"`
	Source    string `json:"source,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`

	// Input
	Message string `json:"message,omitempty"`

	// Context
	UserID      string         `json:"user_id,omitempty"`
	UserProfile map[string]any `json:"user_profile,omitempty"`
	Triggers    Triggers       `json:"triggers"`
	History     []Turn         `json:"history,omitempty"`
	VenueID     string         `json:"venue_id,omitempty"`
	VenueName   string         `json:"venue_name,omitempty"`

	// Decision
	TriggerType  TriggerType `json:"trigger_type,omitempty"`
	SystemPrompt string      `json:"system_prompt,omitempty"`
	UserPrompt   string      `json:"user_prompt,omitempty"`

	// Output
	ResponseText      string `json:"response_text,omitempty"`
	HumanizedResponse string `json:"humanized_response,omitempty"`
	EscalationNeeded  bool   `json:"escalation_needed"`
	EscalationReason  string `json:"escalation_reason,omitempty"`

	// Status
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	// HistoryWriteFailed marks a run whose reply was delivered but whose
	// turns could not be appended to the durable history log. Non-fatal:
	// the snapshot's History still carries the turns.
	HistoryWriteFailed bool      `json:"history_write_failed,omitempty"`
	Stage              string    `json:"stage,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

var (
	ErrEmptyChatID     = errors.New("chat id is empty")
	ErrTriggerReset    = errors.New("trigger type already set")
	ErrInvalidTrigger  = errors.New("trigger type outside enumeration")
	ErrStateViolation  = errors.New("conversation state violates invariant")
	ErrNilConversation = errors.New("conversation state is nil")
)

func NewConversationState(chatID string, now time.Time) (*ConversationState, error) {
	if chatID == "" {
		return nil, ErrEmptyChatID
	}
	return &ConversationState{
		ChatID:    chatID,
		UpdatedAt: now.UTC(),
	}, nil
}

func (s *ConversationState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// Fail records a terminal failure. Later stages observe Failed() and skip.
func (s *ConversationState) Fail(kind, msg string) {
	s.ErrorKind = kind
	s.Error = msg
}

func (s *ConversationState) Failed() bool {
	return s != nil && s.Error != ""
}

// SetTriggerType enforces the set-at-most-once contract.
func (s *ConversationState) SetTriggerType(t TriggerType) error {
	if s.TriggerType != "" {
		return fmt.Errorf("%w: current=%s", ErrTriggerReset, s.TriggerType)
	}
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTrigger, t)
	}
	s.TriggerType = t
	return nil
}

// Validate checks the invariants a persisted snapshot must satisfy.
func (s *ConversationState) Validate() error {
	if s == nil {
		return ErrNilConversation
	}
	if s.ChatID == "" {
		return ErrEmptyChatID
	}
	if s.TriggerType != "" && !s.TriggerType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTrigger, s.TriggerType)
	}
	if s.EscalationNeeded && s.EscalationReason == "" {
		return fmt.Errorf("%w: escalation_needed without escalation_reason", ErrStateViolation)
	}
	if !s.EscalationNeeded && s.EscalationReason != "" {
		return fmt.Errorf("%w: escalation_reason without escalation_needed", ErrStateViolation)
	}
	return nil
}
