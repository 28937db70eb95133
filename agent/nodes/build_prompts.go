package pipelinenode

import (
	"fmt"

	promptx "github.com/fitlabs/respond-agent/agent/prompt"
	statex "github.com/fitlabs/respond-agent/agent/state"
)

// BuildPrompts renders the system prompt for the selected trigger and the
// user prompt from the message plus history. Both are guaranteed non-empty.
func BuildPrompts(gs *GraphState, prompts *promptx.Builder) (*GraphState, error) {
	st := gs.State
	if st.Failed() {
		return gs, nil
	}
	st.Stage = "build_prompts"

	system, err := prompts.BuildSystem(st.TriggerType, st.UserProfile)
	if err != nil {
		st.Fail(statex.ErrorKindValidation, fmt.Sprintf("build system prompt: %v", err))
		return gs, nil
	}
	user, err := prompts.BuildUser(st.Message, st.History)
	if err != nil {
		st.Fail(statex.ErrorKindValidation, fmt.Sprintf("build user prompt: %v", err))
		return gs, nil
	}

	st.SystemPrompt = system
	st.UserPrompt = user
	return gs, nil
}
