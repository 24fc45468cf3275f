package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kilnworks/kiln/internal/event"
	"github.com/kilnworks/kiln/internal/logging"
	"github.com/kilnworks/kiln/internal/provider"
	"github.com/kilnworks/kiln/internal/tool"
	"github.com/kilnworks/kiln/pkg/types"
)

// Persistence stores conversation history. Reads happen on first session
// load; writes are asynchronous and best-effort, the in-memory session
// stays authoritative.
type Persistence interface {
	ReadMessages(ctx context.Context, projectID string) ([]*types.Message, error)
	WriteMessages(ctx context.Context, projectID string, messages []*types.Message) error
}

const (
	// MaxIterations caps the request/tool-execution cycles of one
	// generation.
	MaxIterations = 50

	persistTimeout = 10 * time.Second
)

// Service owns all sessions and runs their generations.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cancels  map[string]context.CancelFunc

	persistence Persistence
	providers   *provider.Registry
	bus         *event.Bus

	systemPrompt  string
	maxIterations int
	maxTokens     int
	temperature   float64
}

// Option configures the Service.
type Option func(*Service)

// WithSystemPrompt sets the system prompt prepended to provider requests.
func WithSystemPrompt(prompt string) Option {
	return func(s *Service) { s.systemPrompt = prompt }
}

// WithMaxIterations overrides the loop iteration cap.
func WithMaxIterations(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// WithMaxTokens sets the per-request output token limit.
func WithMaxTokens(n int) Option {
	return func(s *Service) { s.maxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *Service) { s.temperature = t }
}

// NewService creates the session service.
func NewService(persistence Persistence, providers *provider.Registry, bus *event.Bus, opts ...Option) *Service {
	s := &Service{
		sessions:      make(map[string]*Session),
		cancels:       make(map[string]context.CancelFunc),
		persistence:   persistence,
		providers:     providers,
		bus:           bus,
		maxIterations: MaxIterations,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadSession returns the session for a project, creating it on first use.
// History is read from persistence once; a read failure yields an empty
// conversation rather than an error.
func (s *Service) LoadSession(ctx context.Context, projectID string, tools, customTools map[string]tool.Tool) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx, projectID, tools, customTools)
}

// GetSession returns the already-loaded session for a project, without
// loading one. The second return is false when the project has never been
// loaded.
func (s *Service) GetSession(projectID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[projectID]
	return sess, ok
}

// loadLocked returns the cached session or constructs one. Caller holds mu.
func (s *Service) loadLocked(ctx context.Context, projectID string, tools, customTools map[string]tool.Tool) *Session {
	if sess, ok := s.sessions[projectID]; ok {
		// Tool sets are fixed once supplied. A session created by an
		// implicit load (nil maps) picks them up on the next explicit
		// load; after that, later loads cannot swap them.
		if sess.Tools == nil {
			sess.Tools = tools
		}
		if sess.CustomTools == nil {
			sess.CustomTools = customTools
		}
		return sess
	}

	sess := &Session{
		ProjectID:   projectID,
		State:       types.StateIdle,
		Tools:       tools,
		CustomTools: customTools,
	}

	if s.persistence != nil {
		messages, err := s.persistence.ReadMessages(ctx, projectID)
		if err != nil {
			logging.Debug().Err(err).Str("project", projectID).Msg("no stored history, starting empty")
		} else {
			sess.Messages = messages
		}
	}

	s.sessions[projectID] = sess
	return sess
}

// AddMessage appends a message to a project's conversation. Missing id and
// timestamp are filled in. The message is persisted asynchronously and a
// message.added event is published.
func (s *Service) AddMessage(ctx context.Context, projectID string, msg *types.Message) (*types.Message, error) {
	s.mu.Lock()
	sess := s.loadLocked(ctx, projectID, nil, nil)

	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Time.Created == 0 {
		msg.Time.Created = time.Now().UnixMilli()
	}

	sess.Messages = append(sess.Messages, msg)
	snapshot := sess.snapshotMessages()
	s.mu.Unlock()

	s.persistAsync(projectID, snapshot)
	s.publish(event.New(event.MessageAdded, projectID, event.MessageAddedData{Message: msg}))
	return msg, nil
}

// Snapshot is a point-in-time view of a session for the HTTP layer.
type Snapshot struct {
	ProjectID        string                `json:"projectID"`
	State            types.GenerationState `json:"state"`
	Messages         []*types.Message      `json:"messages"`
	StreamingMessage *types.Message        `json:"streamingMessage,omitempty"`
	ToolNames        []string              `json:"tools"`
}

// GetSnapshot returns the current view of a project's session.
func (s *Service) GetSnapshot(ctx context.Context, projectID string) *Snapshot {
	s.mu.Lock()
	sess := s.loadLocked(ctx, projectID, nil, nil)
	snap := &Snapshot{
		ProjectID:        projectID,
		State:            sess.State,
		Messages:         sess.snapshotMessages(),
		StreamingMessage: sess.StreamingMessage,
		ToolNames:        sess.toolNames(),
	}
	s.mu.Unlock()

	sort.Strings(snap.ToolNames)
	return snap
}

// persistAsync writes the full message list in the background. Failures
// are logged, never surfaced; history on disk is a best-effort mirror.
func (s *Service) persistAsync(projectID string, messages []*types.Message) {
	if s.persistence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.persistence.WriteMessages(ctx, projectID, messages); err != nil {
			logging.Error().Err(err).Str("project", projectID).Msg("failed to persist messages")
		}
	}()
}

func (s *Service) publish(e event.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}
