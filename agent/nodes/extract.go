package pipelinenode

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
	statex "github.com/fitlabs/respond-agent/agent/state"
)

// Extract normalizes the inbound message into a fresh conversation state.
// A missing chat id is unrecoverable; missing text or sender is recorded on
// the state as a validation failure so the run still terminates cleanly.
func Extract(in GraphInput, now time.Time) (*GraphState, error) {
	chatID := strings.TrimSpace(in.Message.ChatID)
	st, err := statex.NewConversationState(chatID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}

	st.SenderID = strings.TrimSpace(in.Message.SenderID)
	st.Source = strings.TrimSpace(in.Message.Source)
	st.ChannelID = strings.TrimSpace(in.Message.ChannelID)
	st.Stage = "extract"

	if in.Prior != nil {
		st.History = append(st.History, in.Prior.History...)
	}
	if len(in.History) > len(st.History) {
		st.History = append(st.History[:0:0], in.History...)
	}

	text := strings.TrimSpace(in.Message.Text)
	switch {
	case text == "":
		st.Fail(statex.ErrorKindValidation, "inbound message text is empty")
	case st.SenderID == "":
		st.Fail(statex.ErrorKindValidation, "inbound message sender is empty")
	default:
		st.Message = text
	}

	return &GraphState{State: st, Known: in.Message.Known}, nil
}
