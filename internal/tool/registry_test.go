package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry(t.TempDir(), nil)
	assert.Equal(t, []string{"glob", "read", "webfetch"}, r.Names())

	g, ok := r.Get("glob")
	require.True(t, ok)
	assert.Equal(t, "glob", g.Name())
	assert.NotEmpty(t, g.Description())
	assert.NotEmpty(t, g.Parameters())
}

func TestDefaultRegistryDisabledTools(t *testing.T) {
	r := DefaultRegistry(t.TempDir(), map[string]bool{"webfetch": false})
	assert.Equal(t, []string{"glob", "read"}, r.Names())

	_, ok := r.Get("webfetch")
	assert.False(t, ok)
}

func TestRegistryMapIsCopy(t *testing.T) {
	r := DefaultRegistry(t.TempDir(), nil)
	m := r.Map()
	delete(m, "glob")

	_, ok := r.Get("glob")
	assert.True(t, ok)
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("missing")
	assert.False(t, ok)
}
