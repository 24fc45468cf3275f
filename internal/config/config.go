package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/kilnworks/kiln/pkg/types"
)

// Config file names probed in each config directory, in order. Later files
// in the merge order override earlier ones.
var fileNames = []string{"kiln.json", "kiln.jsonc", "kiln.yaml", "kiln.yml"}

// Load builds the effective configuration. Sources in priority order:
//  1. Global config (~/.config/kiln/)
//  2. Project config (<dir>/kiln.json or <dir>/.kiln/kiln.json)
//  3. KILN_CONFIG file override
//  4. Environment variables (highest)
//
// A .env file in the project directory is loaded into the environment
// first so {env:} placeholders and env overrides see it.
func Load(directory string) (*types.Config, error) {
	if directory != "" {
		_ = godotenv.Load(filepath.Join(directory, ".env"))
	}

	config := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
	}

	loaded := make(map[string]bool)
	loadOnce := func(path, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	globalDir := GetPaths().Config
	for _, name := range fileNames {
		loadOnce(filepath.Join(globalDir, name), globalDir)
	}

	if directory != "" {
		projectDir := filepath.Join(directory, ".kiln")
		for _, name := range fileNames {
			loadOnce(filepath.Join(directory, name), directory)
		}
		for _, name := range fileNames {
			loadOnce(filepath.Join(projectDir, name), projectDir)
		}
	}

	if configPath := os.Getenv("KILN_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	applyEnvOverrides(config)
	normalizeProviders(config)

	return config, nil
}

// loadFile parses one config file (JSON, JSONC or YAML) and merges it.
func loadFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return fmt.Errorf("invalid yaml in %s: %w", path, err)
		}
	default:
		data = jsonc.ToJSON(data)
	}

	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("invalid config in %s: %w", path, err)
	}

	merge(config, &fileConfig)
	return nil
}

// yamlToJSON converts a YAML document to JSON bytes so one unmarshal path
// serves both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeYAML(doc))
}

// normalizeYAML rewrites map[any]any keys (yaml.v3 produces them for some
// documents) into string keys so json.Marshal accepts the value.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return out
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeYAML(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeYAML(item)
		}
		return val
	default:
		return v
	}
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate expands {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		path := filePattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(path, "~/") {
			path = filepath.Join(os.Getenv("HOME"), path[2:])
		} else if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return match
		}

		escaped := strings.TrimSpace(string(content))
		escaped = strings.ReplaceAll(escaped, "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")
		return escaped
	})

	return []byte(str)
}

// merge folds source into target; source values win.
func merge(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.SystemPrompt != "" {
		target.SystemPrompt = source.SystemPrompt
	}
	if source.MaxIterations != 0 {
		target.MaxIterations = source.MaxIterations
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}

	if source.Tools != nil {
		if target.Tools == nil {
			target.Tools = make(map[string]bool)
		}
		for k, v := range source.Tools {
			target.Tools[k] = v
		}
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	if source.MCP != nil {
		if target.MCP == nil {
			target.MCP = make(map[string]types.MCPConfig)
		}
		for k, v := range source.MCP {
			target.MCP[k] = v
		}
	}
}

// applyEnvOverrides applies environment variables on top of file config.
func applyEnvOverrides(config *types.Config) {
	providerEnv := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
	}
	for providerID, envVar := range providerEnv {
		apiKey := os.Getenv(envVar)
		if apiKey == "" {
			continue
		}
		if config.Provider == nil {
			config.Provider = make(map[string]types.ProviderConfig)
		}
		p := config.Provider[providerID]
		if p.APIKey == "" {
			p.APIKey = apiKey
			config.Provider[providerID] = p
		}
	}

	if model := os.Getenv("KILN_MODEL"); model != "" {
		config.Model = model
	}
	if prompt := os.Getenv("KILN_SYSTEM_PROMPT"); prompt != "" {
		config.SystemPrompt = prompt
	}
	if level := os.Getenv("KILN_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if iters := os.Getenv("KILN_MAX_ITERATIONS"); iters != "" {
		if n, err := strconv.Atoi(iters); err == nil && n > 0 {
			config.MaxIterations = n
		}
	}
}

// normalizeProviders folds nested Options into the direct fields.
func normalizeProviders(config *types.Config) {
	for name, p := range config.Provider {
		if p.Options != nil {
			if p.Options.APIKey != "" {
				p.APIKey = p.Options.APIKey
			}
			if p.Options.BaseURL != "" {
				p.BaseURL = p.Options.BaseURL
			}
		}
		config.Provider[name] = p
	}
}
