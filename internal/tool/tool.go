// Package tool provides the tools the generation loop can execute on the
// model's behalf.
package tool

import (
	"context"
	"encoding/json"
)

// Tool is a single executable capability offered to the model.
type Tool interface {
	// Name returns the tool identifier used in tool calls.
	Name() string

	// Description returns the tool description shown to the model.
	Description() string

	// Parameters returns the JSON Schema for the tool arguments.
	Parameters() json.RawMessage

	// Execute runs the tool. The error return is for execution failures;
	// these become conversational tool results, not loop aborts.
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// Result is the output of a tool execution.
type Result struct {
	Content string `json:"content"`
}
