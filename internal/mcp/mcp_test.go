package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/kiln/pkg/types"
)

func TestSanitizeToolName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"simple", "simple"},
		{"with-dash", "with_dash"},
		{"with.dot", "with_dot"},
		{"CamelCase123", "CamelCase123"},
		{"a b c", "a_b_c"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeToolName(tt.in))
	}
}

func TestAddServerDisabled(t *testing.T) {
	c := NewClient()
	defer c.Close()

	err := c.AddServer(context.Background(), "docs", &types.MCPConfig{Enabled: false})
	require.NoError(t, err)

	status := c.Status()
	require.Len(t, status, 1)
	assert.Equal(t, StatusDisabled, status[0].Status)
	assert.Empty(t, c.Tools())
}

func TestAddServerDuplicate(t *testing.T) {
	c := NewClient()
	defer c.Close()

	require.NoError(t, c.AddServer(context.Background(), "docs", &types.MCPConfig{Enabled: false}))
	err := c.AddServer(context.Background(), "docs", &types.MCPConfig{Enabled: false})
	assert.Error(t, err)
}

func TestAddServerUnknownTransport(t *testing.T) {
	c := NewClient()
	defer c.Close()

	err := c.AddServer(context.Background(), "bad", &types.MCPConfig{Enabled: true, Type: "carrier-pigeon"})
	require.Error(t, err)

	status := c.Status()
	require.Len(t, status, 1)
	assert.Equal(t, StatusFailed, status[0].Status)
	require.NotNil(t, status[0].Error)
}

func TestAddServerEmptyCommand(t *testing.T) {
	c := NewClient()
	defer c.Close()

	err := c.AddServer(context.Background(), "bad", &types.MCPConfig{Enabled: true, Type: TransportTypeStdio})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty command")
}

func TestExecuteToolNoServer(t *testing.T) {
	c := NewClient()
	defer c.Close()

	_, err := c.ExecuteTool(context.Background(), "docs_search", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no server found")
}
