package event

import "github.com/kilnworks/kiln/pkg/types"

// MessageAddedData is the data for message.added events.
type MessageAddedData struct {
	Message *types.Message `json:"message"`
}

// StreamingUpdateData is the data for message.streaming events. It carries
// the full accumulated state of the in-flight assistant message, not a delta.
type StreamingUpdateData struct {
	Content          string           `json:"content"`
	ReasoningContent string           `json:"reasoning_content,omitempty"`
	ToolCalls        []types.ToolCall `json:"tool_calls,omitempty"`
}

// GenerationFinishedData is the data for generation.finished events.
type GenerationFinishedData struct {
	Message *types.Message `json:"message"`
}

// GenerationFailedData is the data for generation.failed events.
type GenerationFailedData struct {
	Reason string `json:"reason"`
}
