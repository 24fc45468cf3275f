package tool

import (
	"sort"
	"sync"
)

// Registry holds the tools available to sessions.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Map returns a copy of the name-to-tool mapping.
func (r *Registry) Map() map[string]Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Tool, len(r.tools))
	for name, t := range r.tools {
		out[name] = t
	}
	return out
}

// DefaultRegistry creates a registry with the builtin tools. The enabled
// map disables builtins by name; a nil map enables everything.
func DefaultRegistry(workDir string, enabled map[string]bool) *Registry {
	r := NewRegistry()
	for _, t := range []Tool{
		NewGlobTool(workDir),
		NewReadTool(),
		NewWebFetchTool(),
	} {
		if on, ok := enabled[t.Name()]; ok && !on {
			continue
		}
		r.Register(t)
	}
	return r
}
