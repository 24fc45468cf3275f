package provider

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/kilnworks/kiln/internal/logging"
	"github.com/kilnworks/kiln/pkg/types"
)

// Registry holds the configured transports and resolves "provider/model"
// references to them.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

// Register adds or replaces a transport.
func (r *Registry) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.ID()] = t
}

// Get returns the transport with the given ID.
func (r *Registry) Get(providerID string) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.transports[providerID]
	if !ok {
		return nil, &ProviderNotFoundError{Provider: providerID}
	}
	return t, nil
}

// List returns all registered transports sorted by ID.
func (r *Registry) List() []Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Transport, 0, len(r.transports))
	for _, t := range r.transports {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// AllModels returns the models of every registered transport.
func (r *Registry) AllModels() []types.Model {
	var models []types.Model
	for _, t := range r.List() {
		models = append(models, t.Models()...)
	}
	return models
}

// Resolve maps a "provider/model" reference to a transport and model ID.
// The reference splits on the first slash only; model IDs may themselves
// contain slashes. A reference without a slash is rejected as naming an
// unknown provider. Providers with an empty model catalog accept any
// model ID.
func (r *Registry) Resolve(ref string) (Transport, string, error) {
	providerID, modelID := splitModelRef(ref)

	t, err := r.Get(providerID)
	if err != nil {
		return nil, "", err
	}

	models := t.Models()
	if len(models) > 0 {
		found := false
		for _, m := range models {
			if m.ID == modelID {
				found = true
				break
			}
		}
		if !found {
			return nil, "", &ModelNotFoundError{Provider: providerID, Model: modelID}
		}
	}
	return t, modelID, nil
}

// splitModelRef splits "provider/model" on the first slash.
func splitModelRef(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return s, ""
}

// Configure builds transports from config and swaps them in atomically.
// Used at startup and again when the config file changes on disk. A
// provider whose transport fails to construct is skipped with a warning so
// one bad credential does not take down the rest.
func (r *Registry) Configure(ctx context.Context, cfg *types.Config) error {
	transports := make(map[string]Transport)

	for id, pc := range cfg.Provider {
		if pc.Disable {
			continue
		}
		apiKey, baseURL := pc.APIKey, pc.BaseURL
		if pc.Options != nil {
			if apiKey == "" {
				apiKey = pc.Options.APIKey
			}
			if baseURL == "" {
				baseURL = pc.Options.BaseURL
			}
		}

		var (
			t   Transport
			err error
		)
		switch id {
		case "anthropic":
			t, err = NewAnthropicTransport(ctx, &AnthropicConfig{APIKey: apiKey, BaseURL: baseURL})
		case "openai":
			t, err = NewOpenAITransport(ctx, &OpenAIConfig{APIKey: apiKey, BaseURL: baseURL})
		default:
			// Unknown ids get an OpenAI-compatible transport; most
			// self-hosted and proxy endpoints speak that protocol.
			t, err = NewOpenAITransport(ctx, &OpenAIConfig{ID: id, APIKey: apiKey, BaseURL: baseURL})
		}
		if err != nil {
			logging.Warn().Err(err).Str("provider", id).Msg("skipping provider")
			continue
		}
		transports[t.ID()] = t
	}

	r.mu.Lock()
	r.transports = transports
	r.mu.Unlock()

	logging.Info().Int("providers", len(transports)).Msg("provider registry configured")
	return nil
}
