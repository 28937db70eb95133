package pipelinenode

import (
	contractx "github.com/fitlabs/respond-agent/agent/contract"
	statex "github.com/fitlabs/respond-agent/agent/state"
)

// GraphInput starts one pipeline run: the inbound message plus the snapshot
// and history persisted by the previous run for this chat, if any.
type GraphInput struct {
	Message contractx.InboundMessage
	Prior   *statex.ConversationState
	History []statex.Turn
}

// GraphState is threaded through every node. State is the conversation state
// under construction; Known is pre-fetched context carried from the request,
// consumed by the fetch stage.
type GraphState struct {
	State *statex.ConversationState
	Known *contractx.ConversationContext
}
