package pipelinenode

import (
	"fmt"
	"time"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
	statex "github.com/fitlabs/respond-agent/agent/state"
)

// Finalize settles the terminal shape of the state: exactly one of error or
// humanized reply, escalation reason only alongside the escalation flag.
func Finalize(gs *GraphState, now time.Time) (*statex.ConversationState, error) {
	st := gs.State
	st.Stage = "finalize"
	st.Touch(now)

	if st.Failed() {
		st.HumanizedResponse = ""
		st.EscalationNeeded = false
		st.EscalationReason = ""
	}
	if !st.EscalationNeeded {
		st.EscalationReason = ""
	}

	if !st.Failed() && st.HumanizedResponse == "" {
		return nil, fmt.Errorf("%w: run ended with neither error nor reply", contractx.ErrValidation)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}

	return st, nil
}
