package session

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kilnworks/kiln/internal/provider"
	"github.com/kilnworks/kiln/pkg/types"
)

// accumulator merges streaming chunks into a draft assistant message.
// Content and reasoning deltas concatenate; tool call fragments merge by
// correlation id, a fragment with an empty id extending the most recent
// call.
type accumulator struct {
	draft types.Message
}

func newAccumulator() *accumulator {
	return &accumulator{
		draft: types.Message{Role: types.RoleAssistant},
	}
}

func (a *accumulator) apply(chunk *provider.Chunk) {
	a.draft.Content += chunk.ContentDelta
	a.draft.ReasoningContent += chunk.ReasoningDelta
	for _, delta := range chunk.ToolCalls {
		a.mergeToolCall(delta)
	}
}

func (a *accumulator) mergeToolCall(delta provider.ToolCallDelta) {
	calls := a.draft.ToolCalls

	if delta.ID == "" {
		if len(calls) == 0 {
			// A continuation with nothing to continue; drop it.
			return
		}
		last := &calls[len(calls)-1]
		if delta.Name != "" && last.Name == "" {
			last.Name = delta.Name
		}
		last.Arguments += delta.ArgumentsDelta
		return
	}

	for i := range calls {
		if calls[i].ID == delta.ID {
			if delta.Name != "" && calls[i].Name == "" {
				calls[i].Name = delta.Name
			}
			calls[i].Arguments += delta.ArgumentsDelta
			return
		}
	}

	a.draft.ToolCalls = append(calls, types.ToolCall{
		ID:        delta.ID,
		Name:      delta.Name,
		Arguments: delta.ArgumentsDelta,
	})
}

// message returns a snapshot of the draft for streaming updates.
func (a *accumulator) message() *types.Message {
	snapshot := a.draft
	snapshot.ToolCalls = append([]types.ToolCall(nil), a.draft.ToolCalls...)
	return &snapshot
}

// finalize stamps the draft with an id and creation time and returns it.
func (a *accumulator) finalize() *types.Message {
	msg := a.message()
	msg.ID = ulid.Make().String()
	msg.Time.Created = time.Now().UnixMilli()
	return msg
}
