package pipelinenode

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/fitlabs/respond-agent/agent/contract"
	statex "github.com/fitlabs/respond-agent/agent/state"
)

const (
	SenderUser  = "user"
	SenderAgent = "agent"
)

// Deliver sends the humanized reply to the chat. History grows only on a
// confirmed send: the inbound turn and the reply turn are appended together,
// to the durable store first and then to the in-run state. A failed send is
// an upstream error and leaves history untouched.
func Deliver(
	ctx context.Context,
	gs *GraphState,
	deliverer contractx.Deliverer,
	store statex.Store,
	msgLog contractx.MessageLogger,
	now time.Time,
) (*GraphState, error) {
	st := gs.State
	if st.Failed() {
		return gs, nil
	}
	st.Stage = "deliver"

	err := deliverer.Deliver(ctx, contractx.Delivery{
		ChatID:    st.ChatID,
		ChannelID: st.ChannelID,
		Source:    st.Source,
		Text:      st.HumanizedResponse,
	})
	if err != nil {
		log.Error().Str("chat_id", st.ChatID).Err(err).Msg("delivery failed")
		st.Fail(statex.ErrorKindUpstream, fmt.Sprintf("deliver: %v", err))
		return gs, nil
	}

	turns := []statex.Turn{
		{Sender: SenderUser, Text: st.Message, At: now.UTC()},
		{Sender: SenderAgent, Text: st.HumanizedResponse, At: now.UTC()},
	}
	if err := store.AppendHistory(ctx, st.ChatID, turns...); err != nil {
		log.Error().Str("chat_id", st.ChatID).Err(err).Msg("history append failed after delivery")
		st.HistoryWriteFailed = true
	}
	st.History = append(st.History, turns...)

	if msgLog != nil {
		for _, turn := range turns {
			if err := msgLog.LogMessage(ctx, st.ChatID, turn.Sender, turn.Text, turn.At); err != nil {
				log.Warn().Str("chat_id", st.ChatID).Err(err).Msg("message archive write failed")
			}
		}
	}

	return gs, nil
}
