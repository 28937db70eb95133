package pipelinenode

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
	statex "github.com/fitlabs/respond-agent/agent/state"
)

// Generate produces the draft reply. Hitting the tool depth bound degrades to
// the generator's fallback reply and the run continues; any other generator
// failure terminates the run as an upstream error.
func Generate(ctx context.Context, gs *GraphState, gen contractx.Generator) (*GraphState, error) {
	st := gs.State
	if st.Failed() {
		return gs, nil
	}
	st.Stage = "generate"

	result, err := gen.Generate(ctx, st.SystemPrompt, st.UserPrompt)
	if err != nil && !errors.Is(err, contractx.ErrGenerationLimit) {
		log.Error().Str("chat_id", st.ChatID).Err(err).Msg("generation failed")
		st.Fail(statex.ErrorKindUpstream, fmt.Sprintf("generate: %v", err))
		return gs, nil
	}
	if err != nil {
		log.Warn().Str("chat_id", st.ChatID).Err(err).Msg("generation degraded to fallback reply")
	}

	st.ResponseText = result.ResponseText
	st.EscalationNeeded = result.EscalationNeeded
	st.EscalationReason = result.EscalationReason
	if st.EscalationNeeded && st.EscalationReason == "" {
		st.EscalationReason = "unspecified"
	}
	if !st.EscalationNeeded {
		st.EscalationReason = ""
	}

	if st.ResponseText == "" {
		st.Fail(statex.ErrorKindUpstream, "generation produced an empty reply")
	}
	return gs, nil
}
