package pipelinenode

import (
	"context"

	"github.com/rs/zerolog/log"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
)

// Humanize rewrites the draft reply for tone. A humanizer failure is not
// terminal: the raw draft is delivered instead.
func Humanize(ctx context.Context, gs *GraphState, humanizer contractx.Humanizer) (*GraphState, error) {
	st := gs.State
	if st.Failed() {
		return gs, nil
	}
	st.Stage = "humanize"

	out, err := humanizer.Humanize(ctx, st.ResponseText)
	if err != nil {
		log.Warn().Str("chat_id", st.ChatID).Err(err).Msg("humanizer failed, delivering raw reply")
		st.HumanizedResponse = st.ResponseText
		return gs, nil
	}

	st.HumanizedResponse = out
	return gs, nil
}
