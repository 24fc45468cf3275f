package types

// Config is the kiln configuration, merged from global and project files
// plus environment overrides.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// Model is the default "provider/model" reference used when a caller
	// does not name one.
	Model string `json:"model,omitempty"`

	// SystemPrompt is prepended to every provider request.
	SystemPrompt string `json:"systemPrompt,omitempty"`

	// MaxIterations bounds the agent loop. Zero means the engine default.
	MaxIterations int `json:"maxIterations,omitempty"`

	// LogLevel is the minimum log level (DEBUG|INFO|WARN|ERROR).
	LogLevel string `json:"logLevel,omitempty"`

	// Tools enables or disables builtin tools by name.
	Tools map[string]bool `json:"tools,omitempty"`

	// Provider configs, keyed by provider id.
	Provider map[string]ProviderConfig `json:"provider,omitempty"`

	// MCP server configs, keyed by server name. Tools exposed by these
	// servers become the sessions' custom tools.
	MCP map[string]MCPConfig `json:"mcp,omitempty"`
}

// ProviderConfig holds credentials and transport settings for one provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`

	// Nested options, accepted for compatibility with configs that group
	// credentials under "options".
	Options *ProviderOptions `json:"options,omitempty"`

	Disable bool `json:"disable,omitempty"`
}

// ProviderOptions holds nested provider options.
type ProviderOptions struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`
}

// MCPConfig defines one MCP server connection.
type MCPConfig struct {
	Enabled     bool              `json:"enabled"`
	Type        string            `json:"type"` // "stdio" | "remote"
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Timeout     int               `json:"timeout,omitempty"` // milliseconds
}
