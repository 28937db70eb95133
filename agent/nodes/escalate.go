package pipelinenode

import (
	"context"

	"github.com/rs/zerolog/log"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
)

// Escalate notifies the human channel about the conversation. Notification is
// best-effort: a failed notify is handed to the async publisher for retry and
// never fails the run, since the user already has their reply.
func Escalate(
	ctx context.Context,
	gs *GraphState,
	notifier contractx.Notifier,
	publisher contractx.Publisher,
	retryDestination string,
) (*GraphState, error) {
	st := gs.State
	if st.Failed() || !st.EscalationNeeded {
		return gs, nil
	}
	st.Stage = "escalate"

	userName := ""
	if v, ok := st.UserProfile["name"].(string); ok {
		userName = v
	}

	notice := contractx.EscalationNotice{
		ChatID:       st.ChatID,
		Reason:       st.EscalationReason,
		UserName:     userName,
		VenueID:      st.VenueID,
		VenueName:    st.VenueName,
		LastMessage:  st.Message,
		ResponseText: st.HumanizedResponse,
		History:      st.History,
	}

	if notifier != nil {
		err := notifier.Notify(ctx, notice)
		if err == nil {
			return gs, nil
		}
		log.Error().Str("chat_id", st.ChatID).Err(err).Msg("escalation notify failed")
	}

	if publisher != nil && retryDestination != "" {
		if err := publisher.Publish(ctx, retryDestination, notice); err != nil {
			log.Error().Str("chat_id", st.ChatID).Err(err).Msg("escalation retry publish failed")
		}
	}

	return gs, nil
}
