package pipelinenode

import (
	"fmt"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
)

// Router target node names. The wiring in the pipeline package must register
// nodes under exactly these names.
const (
	NodeSelectTrigger = "select_trigger"
	NodeEscalate      = "escalate"
	NodeFinalize      = "finalize"
)

// CheckData routes a run that failed during intake or context fetch straight
// to finalize; healthy runs proceed to trigger selection.
func CheckData(gs *GraphState) (string, error) {
	if gs == nil || gs.State == nil {
		return "", fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if gs.State.Failed() {
		return NodeFinalize, nil
	}
	return NodeSelectTrigger, nil
}

// ShouldEscalate routes to the escalation stage only for a healthy run that
// asked for it. A failed run never escalates; the failure already ends it.
func ShouldEscalate(gs *GraphState) (string, error) {
	if gs == nil || gs.State == nil {
		return "", fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if !gs.State.Failed() && gs.State.EscalationNeeded {
		return NodeEscalate, nil
	}
	return NodeFinalize, nil
}
