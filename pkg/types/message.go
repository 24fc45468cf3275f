package types

// Message roles. The role determines which optional fields may be set:
// tool_calls only appears on assistant messages, tool_call_id only on
// tool messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a session's conversation. Messages are immutable
// once appended to a session; the only mutable Message in the system is the
// streaming draft owned by the generation loop.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`

	// ReasoningContent carries model chain-of-thought, kept separate from
	// the user-visible answer.
	ReasoningContent string `json:"reasoning_content,omitempty"`

	// ToolCalls is set on assistant messages that request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID correlates a tool message to the ToolCall that produced it.
	ToolCallID string `json:"tool_call_id,omitempty"`

	Time MessageTime `json:"time"`
}

// MessageTime contains timestamps for a message, in unix milliseconds.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// ToolCall is a model-requested tool invocation. ID is the correlation
// token, unique within the carrying message. Arguments is the raw JSON
// payload as emitted by the model; it is accumulated from stream fragments
// and passed to the tool opaquely.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}
