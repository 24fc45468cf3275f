package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/kiln/pkg/types"
)

func TestReadMessagesNotFound(t *testing.T) {
	store := New(t.TempDir())

	_, err := store.ReadMessages(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteReadRoundTrip(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	messages := []*types.Message{
		{ID: "m1", Role: types.RoleUser, Content: "hello", Time: types.MessageTime{Created: 1700000000000}},
		{ID: "m2", Role: types.RoleAssistant, Content: "hi there", ToolCalls: []types.ToolCall{
			{ID: "tc1", Name: "glob", Arguments: `{"pattern":"*.go"}`},
		}},
	}

	require.NoError(t, store.WriteMessages(ctx, "p1", messages))

	got, err := store.ReadMessages(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, types.RoleUser, got[0].Role)
	assert.Equal(t, int64(1700000000000), got[0].Time.Created)
	require.Len(t, got[1].ToolCalls, 1)
	assert.Equal(t, `{"pattern":"*.go"}`, got[1].ToolCalls[0].Arguments)
}

func TestWriteReplacesHistory(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.WriteMessages(ctx, "p1", []*types.Message{{ID: "old"}}))
	require.NoError(t, store.WriteMessages(ctx, "p1", []*types.Message{{ID: "a"}, {ID: "b"}}))

	got, err := store.ReadMessages(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
}

func TestProjectsIsolated(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.WriteMessages(ctx, "p1", []*types.Message{{ID: "m1"}}))
	require.NoError(t, store.WriteMessages(ctx, "p2", []*types.Message{{ID: "m2"}}))

	got, err := store.ReadMessages(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)
}

func TestProjectIDSanitized(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	ctx := context.Background()

	require.NoError(t, store.WriteMessages(ctx, "../escape", []*types.Message{{ID: "m1"}}))

	// Nothing may be written outside the base directory.
	_, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape"))
	assert.True(t, os.IsNotExist(err))

	got, err := store.ReadMessages(ctx, "../escape")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDeleteMessages(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.WriteMessages(ctx, "p1", []*types.Message{{ID: "m1"}}))
	require.NoError(t, store.DeleteMessages(ctx, "p1"))

	_, err := store.ReadMessages(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is fine.
	assert.NoError(t, store.DeleteMessages(ctx, "p1"))
}

func TestListProjects(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	projects, err := store.ListProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, projects)

	require.NoError(t, store.WriteMessages(ctx, "p1", nil))
	require.NoError(t, store.WriteMessages(ctx, "p2", nil))

	projects, err = store.ListProjects(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1", "p2"}, projects)
}

func TestCorruptHistoryFails(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	ctx := context.Background()

	require.NoError(t, store.WriteMessages(ctx, "p1", []*types.Message{{ID: "m1"}}))
	path := store.messagesPath("p1")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := store.ReadMessages(ctx, "p1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
