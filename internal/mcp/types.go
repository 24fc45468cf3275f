// Package mcp connects to Model Context Protocol servers and exposes their
// tools to sessions as custom tools.
package mcp

import "encoding/json"

// Transport types accepted in MCP server configs.
const (
	TransportTypeRemote = "remote"
	TransportTypeLocal  = "local"
	TransportTypeStdio  = "stdio"
)

// Tool is a tool advertised by an MCP server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Status is a server connection state.
type Status string

const (
	StatusConnected  Status = "connected"
	StatusDisabled   Status = "disabled"
	StatusFailed     Status = "failed"
	StatusConnecting Status = "connecting"
)

// ServerStatus reports one server's connection state.
type ServerStatus struct {
	Name      string  `json:"name"`
	Status    Status  `json:"status"`
	ToolCount int     `json:"toolCount"`
	Error     *string `json:"error,omitempty"`
}
