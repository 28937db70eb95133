package pipelinenode

import (
	"fmt"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
	statex "github.com/fitlabs/respond-agent/agent/state"
)

// SelectTrigger picks the single trigger type for this run from the flag set,
// using the configured priority order. The decision is made exactly once.
func SelectTrigger(gs *GraphState, order []statex.TriggerType) (*GraphState, error) {
	st := gs.State
	if st.Failed() {
		return gs, nil
	}
	st.Stage = "select_trigger"

	if err := st.SetTriggerType(st.Triggers.Select(order)); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}
	return gs, nil
}
