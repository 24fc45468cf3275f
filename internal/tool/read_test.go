package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readArgs(t *testing.T, path string, extra string) json.RawMessage {
	t.Helper()
	if extra != "" {
		extra = "," + extra
	}
	return json.RawMessage(fmt.Sprintf(`{"filePath":%q%s}`, path, extra))
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("line one\nline two\nline three"), 0644))

	r := NewReadTool()
	result, err := r.Execute(context.Background(), readArgs(t, path, ""))
	require.NoError(t, err)

	assert.Contains(t, result.Content, "00001| line one")
	assert.Contains(t, result.Content, "00003| line three")
	assert.Contains(t, result.Content, "End of file - total 3 lines")
}

func TestReadOffsetAndLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nums.txt")
	content := ""
	for i := 1; i <= 10; i++ {
		content += fmt.Sprintf("line %d\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	r := NewReadTool()
	result, err := r.Execute(context.Background(), readArgs(t, path, `"offset":3,"limit":2`))
	require.NoError(t, err)

	assert.Contains(t, result.Content, "00003| line 3")
	assert.Contains(t, result.Content, "00004| line 4")
	assert.NotContains(t, result.Content, "00005|")
	assert.Contains(t, result.Content, "File has more lines")
}

func TestReadMissingFile(t *testing.T) {
	r := NewReadTool()
	_, err := r.Execute(context.Background(), readArgs(t, "/nonexistent/file.txt", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")
}

func TestReadDirectory(t *testing.T) {
	r := NewReadTool()
	_, err := r.Execute(context.Background(), readArgs(t, t.TempDir(), ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")
}

func TestReadBlocksEnvFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SECRET=x"), 0644))

	r := NewReadTool()
	_, err := r.Execute(context.Background(), readArgs(t, path, ""))
	assert.Error(t, err)

	// Sample env files stay readable.
	sample := filepath.Join(dir, ".env.sample")
	require.NoError(t, os.WriteFile(sample, []byte("SECRET="), 0644))
	_, err = r.Execute(context.Background(), readArgs(t, sample, ""))
	assert.NoError(t, err)
}

func TestReadBinaryFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0x02, 0xff}, 0644))

	r := NewReadTool()
	_, err := r.Execute(context.Background(), readArgs(t, path, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binary")
}
