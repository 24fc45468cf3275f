// Package provider abstracts LLM providers behind a streaming transport
// built on the Eino framework.
package provider

import (
	"context"
	"encoding/json"

	"github.com/cloudwego/eino/schema"

	"github.com/kilnworks/kiln/pkg/types"
)

// Transport is a connection to one LLM provider.
type Transport interface {
	// ID returns the provider identifier used in "provider/model" references.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Models returns the models this provider advertises. An empty list
	// means the model catalog is unknown and any model ID is accepted.
	Models() []types.Model

	// Stream opens a streaming completion.
	Stream(ctx context.Context, req *Request) (*Stream, error)
}

// Request is a single completion request.
type Request struct {
	Model       string           `json:"model"`
	Messages    []*types.Message `json:"messages"`
	Tools       []ToolSchema     `json:"tools,omitempty"`
	MaxTokens   int              `json:"maxTokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
}

// ToolSchema describes a tool offered to the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// Chunk is one increment of a streaming completion. All fields are deltas
// to be appended to the accumulated message.
type Chunk struct {
	ContentDelta   string
	ReasoningDelta string
	ToolCalls      []ToolCallDelta
	FinishReason   string
}

// ToolCallDelta is a fragment of a tool call. The first fragment for a call
// carries its ID and usually its name; later fragments may carry only an
// arguments delta, with an empty ID meaning "the most recent call".
type ToolCallDelta struct {
	ID             string
	Name           string
	ArgumentsDelta string
}

// Stream yields completion chunks. Recv returns io.EOF when the provider
// finishes the response.
type Stream struct {
	recv  func() (*Chunk, error)
	close func()
}

// Recv returns the next chunk or io.EOF at end of stream.
func (s *Stream) Recv() (*Chunk, error) {
	return s.recv()
}

// Close releases the underlying connection. Safe to call after Recv
// returned an error.
func (s *Stream) Close() {
	if s.close != nil {
		s.close()
	}
}

// NewStream builds a Stream from receive and close functions. Exposed for
// tests that script chunk sequences without a live provider.
func NewStream(recv func() (*Chunk, error), close func()) *Stream {
	return &Stream{recv: recv, close: close}
}

// streamFromEino adapts an Eino stream reader to a Stream.
func streamFromEino(reader *schema.StreamReader[*schema.Message]) *Stream {
	return &Stream{
		recv: func() (*Chunk, error) {
			msg, err := reader.Recv()
			if err != nil {
				return nil, err
			}
			return chunkFromEino(msg), nil
		},
		close: reader.Close,
	}
}

// chunkFromEino converts one Eino message chunk to a Chunk.
func chunkFromEino(msg *schema.Message) *Chunk {
	chunk := &Chunk{
		ContentDelta:   msg.Content,
		ReasoningDelta: msg.ReasoningContent,
	}
	for _, tc := range msg.ToolCalls {
		chunk.ToolCalls = append(chunk.ToolCalls, ToolCallDelta{
			ID:             tc.ID,
			Name:           tc.Function.Name,
			ArgumentsDelta: tc.Function.Arguments,
		})
	}
	if msg.ResponseMeta != nil {
		chunk.FinishReason = msg.ResponseMeta.FinishReason
	}
	return chunk
}

// toEinoMessages converts conversation history to Eino format.
func toEinoMessages(messages []*types.Message) []*schema.Message {
	result := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		role := schema.Assistant
		switch msg.Role {
		case types.RoleUser:
			role = schema.User
		case types.RoleSystem:
			role = schema.System
		case types.RoleTool:
			role = schema.Tool
		}

		var toolCalls []schema.ToolCall
		for _, tc := range msg.ToolCalls {
			toolCalls = append(toolCalls, schema.ToolCall{
				ID: tc.ID,
				Function: schema.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}

		result = append(result, &schema.Message{
			Role:       role,
			Content:    msg.Content,
			ToolCalls:  toolCalls,
			ToolCallID: msg.ToolCallID,
		})
	}
	return result
}

// toEinoTools converts tool schemas to Eino format.
func toEinoTools(tools []ToolSchema) []*schema.ToolInfo {
	result := make([]*schema.ToolInfo, len(tools))
	for i, t := range tools {
		var params map[string]*schema.ParameterInfo
		if len(t.Parameters) > 0 {
			params = parseJSONSchemaToParams(t.Parameters)
		}
		result[i] = &schema.ToolInfo{
			Name:        t.Name,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		}
	}
	return result
}

// parseJSONSchemaToParams converts a JSON Schema object to Eino parameter
// descriptors. Only the flat property shapes tools actually use are mapped.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var jsonSchema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schemaJSON, &jsonSchema); err != nil {
		return nil
	}

	requiredSet := make(map[string]bool)
	for _, r := range jsonSchema.Required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo)
	for name, prop := range jsonSchema.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}
		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: requiredSet[name],
		}
	}
	return params
}
