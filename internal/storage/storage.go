// Package storage persists conversation history as JSON files on disk.
// One file per project holds the full message list; the in-memory session
// remains authoritative and storage is only consulted on first load.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kilnworks/kiln/pkg/types"
)

// ErrNotFound is returned when a project has no stored history.
var ErrNotFound = errors.New("not found")

// Store is a file-backed message store rooted at a base directory.
type Store struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*FileLock
}

// New creates a store rooted at basePath.
func New(basePath string) *Store {
	return &Store{
		basePath: basePath,
		locks:    make(map[string]*FileLock),
	}
}

// messagesPath returns the history file for one project. Project ids are
// sanitized so they cannot escape the base directory.
func (s *Store) messagesPath(projectID string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(projectID)
	return filepath.Join(s.basePath, "project", name, "messages.json")
}

// ReadMessages loads the stored history for a project. Returns ErrNotFound
// when no history exists.
func (s *Store) ReadMessages(_ context.Context, projectID string) ([]*types.Message, error) {
	data, err := os.ReadFile(s.messagesPath(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	var messages []*types.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	return messages, nil
}

// WriteMessages replaces the stored history for a project. The file is
// written to a temp path and renamed so readers never see a partial write.
func (s *Store) WriteMessages(_ context.Context, projectID string, messages []*types.Message) error {
	filePath := s.messagesPath(projectID)

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// DeleteMessages removes the stored history for a project. Deleting a
// project with no history is a no-op.
func (s *Store) DeleteMessages(_ context.Context, projectID string) error {
	filePath := s.messagesPath(projectID)

	lock := s.getLock(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// ListProjects returns the ids of all projects with stored history.
func (s *Store) ListProjects(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.basePath, "project"))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var projects []string
	for _, entry := range entries {
		if entry.IsDir() {
			projects = append(projects, entry.Name())
		}
	}
	return projects, nil
}

func (s *Store) getLock(filePath string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[filePath]
	if !ok {
		lock = NewFileLock(filePath)
		s.locks[filePath] = lock
	}
	return lock
}
