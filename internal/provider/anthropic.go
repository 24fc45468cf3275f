package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino-ext/components/model/claude"

	"github.com/kilnworks/kiln/pkg/types"
)

// AnthropicTransport serves Anthropic Claude models.
type AnthropicTransport struct {
	config *AnthropicConfig
	models []types.Model
}

// AnthropicConfig holds Anthropic credentials and endpoint settings.
type AnthropicConfig struct {
	// ID overrides the default "anthropic" identifier.
	ID      string
	APIKey  string
	BaseURL string
}

// NewAnthropicTransport creates an Anthropic transport. The API key falls
// back to ANTHROPIC_API_KEY.
func NewAnthropicTransport(_ context.Context, config *AnthropicConfig) (*AnthropicTransport, error) {
	if config.APIKey == "" {
		config.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}
	return &AnthropicTransport{
		config: config,
		models: anthropicModels(),
	}, nil
}

// ID returns the provider identifier.
func (t *AnthropicTransport) ID() string {
	if t.config.ID != "" {
		return t.config.ID
	}
	return "anthropic"
}

// Name returns the human-readable provider name.
func (t *AnthropicTransport) Name() string { return "Anthropic" }

// Models returns the advertised model catalog.
func (t *AnthropicTransport) Models() []types.Model {
	return t.models
}

// Stream opens a streaming completion against the requested model.
func (t *AnthropicTransport) Stream(ctx context.Context, req *Request) (*Stream, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	cfg := &claude.Config{
		APIKey:    t.config.APIKey,
		Model:     req.Model,
		MaxTokens: maxTokens,
	}
	if t.config.BaseURL != "" {
		cfg.BaseURL = &t.config.BaseURL
	}

	chatModel, err := claude.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Claude model: %w", err)
	}

	var cm model.ToolCallingChatModel = chatModel
	if len(req.Tools) > 0 {
		cm, err = cm.WithTools(toEinoTools(req.Tools))
		if err != nil {
			return nil, fmt.Errorf("failed to bind tools: %w", err)
		}
	}

	reader, err := cm.Stream(ctx, toEinoMessages(req.Messages),
		model.WithMaxTokens(maxTokens),
		model.WithTemperature(float32(req.Temperature)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}
	return streamFromEino(reader), nil
}

// anthropicModels is the static Claude catalog.
func anthropicModels() []types.Model {
	return []types.Model{
		{
			ID:                "claude-sonnet-4-20250514",
			Name:              "Claude Sonnet 4",
			ProviderID:        "anthropic",
			ContextLength:     200000,
			MaxOutputTokens:   64000,
			SupportsTools:     true,
			SupportsReasoning: true,
		},
		{
			ID:                "claude-opus-4-20250514",
			Name:              "Claude Opus 4",
			ProviderID:        "anthropic",
			ContextLength:     200000,
			MaxOutputTokens:   32000,
			SupportsTools:     true,
			SupportsReasoning: true,
		},
		{
			ID:              "claude-3-5-sonnet-20241022",
			Name:            "Claude 3.5 Sonnet",
			ProviderID:      "anthropic",
			ContextLength:   200000,
			MaxOutputTokens: 8192,
			SupportsTools:   true,
		},
		{
			ID:              "claude-3-5-haiku-20241022",
			Name:            "Claude 3.5 Haiku",
			ProviderID:      "anthropic",
			ContextLength:   200000,
			MaxOutputTokens: 8192,
			SupportsTools:   true,
		},
	}
}
