package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const globDescription = `Fast file pattern matching tool.

Usage:
- Supports glob patterns like "**/*.js" or "src/**/*.ts"
- Returns matching file paths relative to the search directory
- Use this tool when you need to find files by name patterns`

// GlobTool matches files against glob patterns.
type GlobTool struct {
	workDir string
}

// GlobInput is the argument shape for the glob tool.
type GlobInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// NewGlobTool creates a glob tool rooted at workDir.
func NewGlobTool(workDir string) *GlobTool {
	return &GlobTool{workDir: workDir}
}

func (t *GlobTool) Name() string        { return "glob" }
func (t *GlobTool) Description() string { return globDescription }

func (t *GlobTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The glob pattern to match files against"
			},
			"path": {
				"type": "string",
				"description": "Directory to search in (default: working directory)"
			}
		},
		"required": ["pattern"]
	}`)
}

func (t *GlobTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var params GlobInput
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}

	searchDir := t.workDir
	if params.Path != "" {
		if filepath.IsAbs(params.Path) {
			searchDir = params.Path
		} else {
			searchDir = filepath.Join(searchDir, params.Path)
		}
	}

	matches, err := doublestar.Glob(os.DirFS(searchDir), params.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	if len(matches) == 0 {
		return &Result{Content: "No files matched the pattern"}, nil
	}

	const maxFiles = 100
	truncated := false
	if len(matches) > maxFiles {
		matches = matches[:maxFiles]
		truncated = true
	}

	output := strings.Join(matches, "\n")
	if truncated {
		output += fmt.Sprintf("\n\n(Showing first %d matches)", maxFiles)
	}
	return &Result{Content: output}, nil
}
