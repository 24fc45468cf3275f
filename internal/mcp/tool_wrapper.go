package mcp

import (
	"context"
	"encoding/json"

	"github.com/kilnworks/kiln/internal/tool"
)

// ToolWrapper adapts an MCP tool to the tool.Tool interface so sessions can
// execute it like a builtin.
type ToolWrapper struct {
	mcpTool Tool
	client  *Client
}

// NewToolWrapper wraps one MCP tool.
func NewToolWrapper(mcpTool Tool, client *Client) *ToolWrapper {
	return &ToolWrapper{mcpTool: mcpTool, client: client}
}

// Name returns the prefixed tool name (serverName_toolName).
func (w *ToolWrapper) Name() string { return w.mcpTool.Name }

// Description returns the tool description.
func (w *ToolWrapper) Description() string { return w.mcpTool.Description }

// Parameters returns the tool's input schema.
func (w *ToolWrapper) Parameters() json.RawMessage { return w.mcpTool.InputSchema }

// Execute runs the tool on its MCP server.
func (w *ToolWrapper) Execute(ctx context.Context, args json.RawMessage) (*tool.Result, error) {
	output, err := w.client.ExecuteTool(ctx, w.mcpTool.Name, args)
	if err != nil {
		return nil, err
	}
	return &tool.Result{Content: output}, nil
}

// CustomTools returns all tools of all connected servers wrapped for the
// session layer, keyed by prefixed name.
func (c *Client) CustomTools() map[string]tool.Tool {
	tools := c.Tools()
	out := make(map[string]tool.Tool, len(tools))
	for _, t := range tools {
		out[t.Name] = NewToolWrapper(t, c)
	}
	return out
}
