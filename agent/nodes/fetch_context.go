package pipelinenode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
	statex "github.com/fitlabs/respond-agent/agent/state"
)

// FetchContext loads the user profile and trigger flags for the chat. Context
// carried on the request wins over a backend round trip. A backend failure or
// a context without a user profile is recorded as an upstream error; the run
// terminates without a reply.
func FetchContext(ctx context.Context, gs *GraphState, provider contractx.ContextProvider) (*GraphState, error) {
	st := gs.State
	if st.Failed() {
		return gs, nil
	}
	st.Stage = "fetch_context"

	cc := gs.Known
	if cc == nil {
		if provider == nil {
			st.Fail(statex.ErrorKindUpstream, "no context provider configured")
			return gs, nil
		}
		fetched, err := provider.ConversationContext(ctx, st.ChatID)
		if err != nil {
			log.Error().Str("chat_id", st.ChatID).Err(err).Msg("fetch conversation context failed")
			st.Fail(statex.ErrorKindUpstream, fmt.Sprintf("fetch context: %v", err))
			return gs, nil
		}
		cc = fetched
	}
	if cc == nil {
		st.Fail(statex.ErrorKindUpstream, "context provider returned nothing")
		return gs, nil
	}
	if len(cc.Profile) == 0 {
		st.Fail(statex.ErrorKindUpstream, "conversation context has no user profile")
		return gs, nil
	}

	st.UserID = cc.UserID
	st.UserProfile = cc.Profile
	st.Triggers = cc.Triggers
	st.VenueID = cc.VenueID
	st.VenueName = cc.VenueName
	if len(st.History) == 0 && len(cc.History) > 0 {
		st.History = append(st.History, cc.History...)
	}

	return gs, nil
}
