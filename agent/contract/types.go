package contract

import (
	"time"

	statex "github.com/fitlabs/respond-agent/agent/state"
)

// InboundMessage is the normalized intake payload for one pipeline run.
type InboundMessage struct {
	ChatID    string `json:"chat_id"`
	SenderID  string `json:"sender_id"`
	Text      string `json:"text"`
	Source    string `json:"source"`
	ChannelID string `json:"channel_id"`

	// Known carries already-fetched context for direct invocation; when set,
	// the fetch_context stage uses it instead of calling the backend.
	Known *ConversationContext `json:"known,omitempty"`
}

// ConversationContext is what the profile/history collaborator returns for a chat.
type ConversationContext struct {
	UserID    string          `json:"user_id"`
	Profile   map[string]any  `json:"profile"`
	Triggers  statex.Triggers `json:"triggers"`
	History   []statex.Turn   `json:"history"`
	VenueID   string          `json:"venue_id,omitempty"`
	VenueName string          `json:"venue_name,omitempty"`
}

// GenerationResult is the parsed output of the generation capability.
type GenerationResult struct {
	ResponseText     string `json:"response_text"`
	EscalationNeeded bool   `json:"escalation_needed"`
	EscalationReason string `json:"escalation_reason,omitempty"`
}

// Delivery describes one outbound message send.
type Delivery struct {
	ChatID    string `json:"chat_id"`
	ChannelID string `json:"channel_id"`
	Source    string `json:"source"`
	Text      string `json:"text"`
}

// EscalationNotice is handed to the human-facing collaborator when a run escalates.
type EscalationNotice struct {
	ChatID       string        `json:"chat_id"`
	Reason       string        `json:"reason"`
	UserName     string        `json:"user_name,omitempty"`
	VenueID      string        `json:"venue_id,omitempty"`
	VenueName    string        `json:"venue_name,omitempty"`
	LastMessage  string        `json:"last_message"`
	ResponseText string        `json:"response_text"`
	History      []statex.Turn `json:"history,omitempty"`
}

// ScheduleEvent is one bookable session returned by the schedule collaborator.
type ScheduleEvent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    string    `json:"status"`
}
