package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino-ext/components/model/openai"

	"github.com/kilnworks/kiln/pkg/types"
)

// OpenAITransport serves OpenAI models and any OpenAI-compatible endpoint.
type OpenAITransport struct {
	config *OpenAIConfig
	models []types.Model
}

// OpenAIConfig holds OpenAI credentials and endpoint settings.
type OpenAIConfig struct {
	// ID overrides the default "openai" identifier. Compatible endpoints
	// (ollama, vllm, proxies) register under their own id.
	ID      string
	APIKey  string
	BaseURL string
}

// NewOpenAITransport creates an OpenAI transport. The API key falls back
// to OPENAI_API_KEY.
func NewOpenAITransport(_ context.Context, config *OpenAIConfig) (*OpenAITransport, error) {
	if config.APIKey == "" {
		config.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if config.APIKey == "" && config.BaseURL == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	t := &OpenAITransport{config: config}
	if config.ID == "" || config.ID == "openai" {
		t.models = openaiModels()
	}
	// Compatible endpoints get no catalog; any model id is accepted.
	return t, nil
}

// ID returns the provider identifier.
func (t *OpenAITransport) ID() string {
	if t.config.ID != "" {
		return t.config.ID
	}
	return "openai"
}

// Name returns the human-readable provider name.
func (t *OpenAITransport) Name() string {
	if t.config.ID != "" && t.config.ID != "openai" {
		return t.config.ID
	}
	return "OpenAI"
}

// Models returns the advertised model catalog.
func (t *OpenAITransport) Models() []types.Model {
	return t.models
}

// Stream opens a streaming completion against the requested model.
func (t *OpenAITransport) Stream(ctx context.Context, req *Request) (*Stream, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	cfg := &openai.ChatModelConfig{
		APIKey:              t.config.APIKey,
		Model:               req.Model,
		MaxCompletionTokens: &maxTokens,
	}
	if t.config.BaseURL != "" {
		cfg.BaseURL = t.config.BaseURL
	}

	chatModel, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}

	var cm model.ToolCallingChatModel = chatModel
	if len(req.Tools) > 0 {
		cm, err = cm.WithTools(toEinoTools(req.Tools))
		if err != nil {
			return nil, fmt.Errorf("failed to bind tools: %w", err)
		}
	}

	reader, err := cm.Stream(ctx, toEinoMessages(req.Messages),
		model.WithTemperature(float32(req.Temperature)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}
	return streamFromEino(reader), nil
}

// openaiModels is the static OpenAI catalog.
func openaiModels() []types.Model {
	return []types.Model{
		{
			ID:              "gpt-4o",
			Name:            "GPT-4o",
			ProviderID:      "openai",
			ContextLength:   128000,
			MaxOutputTokens: 16384,
			SupportsTools:   true,
		},
		{
			ID:              "gpt-4o-mini",
			Name:            "GPT-4o Mini",
			ProviderID:      "openai",
			ContextLength:   128000,
			MaxOutputTokens: 16384,
			SupportsTools:   true,
		},
		{
			ID:                "o3-mini",
			Name:              "o3 Mini",
			ProviderID:        "openai",
			ContextLength:     200000,
			MaxOutputTokens:   100000,
			SupportsTools:     true,
			SupportsReasoning: true,
		},
	}
}
