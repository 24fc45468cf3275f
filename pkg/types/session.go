package types

// GenerationState is the per-session generation state machine. Idle is the
// initial and resting state; a session accepts a new generation only while
// Idle, which is also how per-session mutual exclusion is enforced.
type GenerationState string

const (
	StateIdle           GenerationState = "idle"
	StateRequesting     GenerationState = "requesting"
	StateStreaming      GenerationState = "streaming"
	StateExecutingTools GenerationState = "executing_tools"
	StateCancelling     GenerationState = "cancelling"
)

// Active reports whether a generation currently holds the session.
func (s GenerationState) Active() bool {
	return s != StateIdle && s != ""
}

// Model describes one model offered by a provider.
type Model struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	ProviderID        string `json:"providerID"`
	ContextLength     int    `json:"contextLength,omitempty"`
	MaxOutputTokens   int    `json:"maxOutputTokens,omitempty"`
	SupportsTools     bool   `json:"supportsTools,omitempty"`
	SupportsReasoning bool   `json:"supportsReasoning,omitempty"`
}
