// Package session implements per-project conversations and the agentic
// generation loop that drives them.
package session

import (
	"github.com/kilnworks/kiln/internal/tool"
	"github.com/kilnworks/kiln/pkg/types"
)

// Session is the in-memory state of one project's conversation. All access
// goes through the Service, which owns the locking.
type Session struct {
	ProjectID string
	Messages  []*types.Message

	// StreamingMessage is the in-flight assistant draft. Non-nil exactly
	// while State is streaming or executing_tools.
	StreamingMessage *types.Message

	State types.GenerationState

	// Tools are the builtin tools; CustomTools come from MCP servers.
	// Builtins win on name collision.
	Tools       map[string]tool.Tool
	CustomTools map[string]tool.Tool
}

// lookupTool finds a tool by name, builtins first.
func (s *Session) lookupTool(name string) (tool.Tool, bool) {
	if t, ok := s.Tools[name]; ok {
		return t, true
	}
	t, ok := s.CustomTools[name]
	return t, ok
}

// snapshotMessages returns a copy of the message slice. The messages
// themselves are not copied; they are treated as immutable once appended.
func (s *Session) snapshotMessages() []*types.Message {
	return append([]*types.Message(nil), s.Messages...)
}

// toolNames returns the names of every tool visible to the session.
func (s *Session) toolNames() []string {
	seen := make(map[string]bool, len(s.Tools)+len(s.CustomTools))
	var names []string
	for name := range s.Tools {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range s.CustomTools {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// toolSchemas builds the provider-facing schemas for the session's tools.
func (s *Session) toolSchemas() []toolSchemaEntry {
	var entries []toolSchemaEntry
	add := func(t tool.Tool) {
		entries = append(entries, toolSchemaEntry{
			name:        t.Name(),
			description: t.Description(),
			parameters:  t.Parameters(),
		})
	}
	for _, t := range s.Tools {
		add(t)
	}
	for name, t := range s.CustomTools {
		if _, shadowed := s.Tools[name]; shadowed {
			continue
		}
		add(t)
	}
	return entries
}

type toolSchemaEntry struct {
	name        string
	description string
	parameters  []byte
}
