package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestGlobMatches(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main")
	writeFile(t, dir, "util.go", "package main")
	writeFile(t, dir, "README.md", "# readme")
	writeFile(t, dir, "sub/helper.go", "package sub")

	g := NewGlobTool(dir)
	result, err := g.Execute(context.Background(), json.RawMessage(`{"pattern":"**/*.go"}`))
	require.NoError(t, err)

	assert.Contains(t, result.Content, "main.go")
	assert.Contains(t, result.Content, "util.go")
	assert.Contains(t, result.Content, filepath.Join("sub", "helper.go"))
	assert.NotContains(t, result.Content, "README.md")
}

func TestGlobNoMatches(t *testing.T) {
	g := NewGlobTool(t.TempDir())
	result, err := g.Execute(context.Background(), json.RawMessage(`{"pattern":"*.rs"}`))
	require.NoError(t, err)
	assert.Equal(t, "No files matched the pattern", result.Content)
}

func TestGlobSubdirectoryPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/a.ts", "")
	writeFile(t, dir, "b.ts", "")

	g := NewGlobTool(dir)
	result, err := g.Execute(context.Background(), json.RawMessage(`{"pattern":"*.ts","path":"src"}`))
	require.NoError(t, err)
	assert.Contains(t, result.Content, "a.ts")
	assert.NotContains(t, result.Content, "b.ts")
}

func TestGlobMissingPattern(t *testing.T) {
	g := NewGlobTool(t.TempDir())
	_, err := g.Execute(context.Background(), json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestGlobInvalidJSON(t *testing.T) {
	g := NewGlobTool(t.TempDir())
	_, err := g.Execute(context.Background(), json.RawMessage(`{not json`))
	assert.Error(t, err)
}
