package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/kiln/internal/provider"
	"github.com/kilnworks/kiln/pkg/types"
)

func TestAccumulatorContentConcatenation(t *testing.T) {
	acc := newAccumulator()
	acc.apply(&provider.Chunk{ContentDelta: "Hel"})
	acc.apply(&provider.Chunk{ContentDelta: "lo, "})
	acc.apply(&provider.Chunk{ContentDelta: "world"})

	msg := acc.message()
	assert.Equal(t, "Hello, world", msg.Content)
	assert.Equal(t, types.RoleAssistant, msg.Role)
}

func TestAccumulatorReasoningSeparateFromContent(t *testing.T) {
	acc := newAccumulator()
	acc.apply(&provider.Chunk{ReasoningDelta: "thinking "})
	acc.apply(&provider.Chunk{ReasoningDelta: "hard"})
	acc.apply(&provider.Chunk{ContentDelta: "answer"})

	msg := acc.message()
	assert.Equal(t, "thinking hard", msg.ReasoningContent)
	assert.Equal(t, "answer", msg.Content)
}

func TestAccumulatorToolCallFragments(t *testing.T) {
	acc := newAccumulator()
	acc.apply(&provider.Chunk{ToolCalls: []provider.ToolCallDelta{
		{ID: "call_1", Name: "glob", ArgumentsDelta: `{"pat`},
	}})
	acc.apply(&provider.Chunk{ToolCalls: []provider.ToolCallDelta{
		{ID: "call_1", ArgumentsDelta: `tern":"*.go"}`},
	}})

	msg := acc.message()
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "glob", msg.ToolCalls[0].Name)
	assert.Equal(t, `{"pattern":"*.go"}`, msg.ToolCalls[0].Arguments)
}

func TestAccumulatorEmptyIDExtendsLastCall(t *testing.T) {
	acc := newAccumulator()
	acc.apply(&provider.Chunk{ToolCalls: []provider.ToolCallDelta{
		{ID: "call_1", Name: "read", ArgumentsDelta: `{"file`},
	}})
	acc.apply(&provider.Chunk{ToolCalls: []provider.ToolCallDelta{
		{ArgumentsDelta: `Path":"a.txt"}`},
	}})

	msg := acc.message()
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, `{"filePath":"a.txt"}`, msg.ToolCalls[0].Arguments)
}

func TestAccumulatorMultipleToolCalls(t *testing.T) {
	acc := newAccumulator()
	acc.apply(&provider.Chunk{ToolCalls: []provider.ToolCallDelta{
		{ID: "call_1", Name: "glob", ArgumentsDelta: `{}`},
		{ID: "call_2", Name: "read", ArgumentsDelta: `{"a":1}`},
	}})

	msg := acc.message()
	require.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, "glob", msg.ToolCalls[0].Name)
	assert.Equal(t, "read", msg.ToolCalls[1].Name)
}

func TestAccumulatorDropsOrphanContinuation(t *testing.T) {
	acc := newAccumulator()
	acc.apply(&provider.Chunk{ToolCalls: []provider.ToolCallDelta{
		{ArgumentsDelta: `{"x":1}`},
	}})
	assert.Empty(t, acc.message().ToolCalls)
}

func TestAccumulatorSnapshotIsolation(t *testing.T) {
	acc := newAccumulator()
	acc.apply(&provider.Chunk{ToolCalls: []provider.ToolCallDelta{
		{ID: "call_1", Name: "glob", ArgumentsDelta: `{`},
	}})

	snap := acc.message()
	acc.apply(&provider.Chunk{ToolCalls: []provider.ToolCallDelta{
		{ID: "call_1", ArgumentsDelta: `}`},
	}})

	// Earlier snapshots must not see later mutations.
	assert.Equal(t, `{`, snap.ToolCalls[0].Arguments)
	assert.Equal(t, `{}`, acc.message().ToolCalls[0].Arguments)
}

func TestAccumulatorFinalize(t *testing.T) {
	acc := newAccumulator()
	acc.apply(&provider.Chunk{ContentDelta: "done"})

	msg := acc.finalize()
	assert.Len(t, msg.ID, 26)
	assert.NotZero(t, msg.Time.Created)
	assert.Equal(t, "done", msg.Content)
}
