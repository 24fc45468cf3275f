package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"

	"github.com/kilnworks/kiln/internal/event"
	"github.com/kilnworks/kiln/internal/logging"
	"github.com/kilnworks/kiln/internal/provider"
	"github.com/kilnworks/kiln/pkg/types"
)

const (
	// MaxRetries is the retry cap for opening a provider stream.
	MaxRetries = 3
	// RetryInitialInterval is the initial backoff interval.
	RetryInitialInterval = time.Second
	// RetryMaxInterval is the backoff interval ceiling.
	RetryMaxInterval = 30 * time.Second
	// RetryMaxElapsedTime bounds the total time spent retrying.
	RetryMaxElapsedTime = 2 * time.Minute
)

// newRetryBackoff creates an exponential backoff with jitter, bounded by
// the context.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// StartGeneration runs one full generation for a project: request the
// model, stream the response, execute requested tools, repeat until the
// model answers without tool calls or the iteration cap is hit. It blocks
// until the generation finishes and returns its terminal error, if any.
//
// Only one generation per project may run; a second call while one is
// active returns ErrGenerationInProgress without touching the session.
func (s *Service) StartGeneration(ctx context.Context, projectID, modelRef string) error {
	s.mu.Lock()
	sess := s.loadLocked(ctx, projectID, nil, nil)

	if sess.State != types.StateIdle {
		s.mu.Unlock()
		return ErrGenerationInProgress
	}

	// Resolve before committing any state so a bad reference leaves the
	// session untouched.
	transport, modelID, err := s.providers.Resolve(modelRef)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	genCtx, cancel := context.WithCancel(ctx)
	sess.State = types.StateRequesting
	s.cancels[projectID] = cancel
	s.mu.Unlock()

	logging.Info().Str("project", projectID).Str("model", modelRef).Msg("generation started")

	err = s.runLoop(genCtx, sess, transport, modelID)

	s.mu.Lock()
	sess.StreamingMessage = nil
	sess.State = types.StateIdle
	delete(s.cancels, projectID)
	s.mu.Unlock()
	cancel()

	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.Canceled) {
			reason = "generation cancelled"
		}
		logging.Warn().Err(err).Str("project", projectID).Msg("generation failed")
		s.publish(event.New(event.GenerationFailed, projectID, event.GenerationFailedData{Reason: reason}))
		return err
	}
	return nil
}

// CancelGeneration requests cooperative cancellation of a project's
// running generation. The in-flight draft is discarded; committed messages
// stay. Returns ErrNoActiveGeneration when nothing is running.
func (s *Service) CancelGeneration(projectID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[projectID]
	cancel, hasCancel := s.cancels[projectID]
	if !ok || !hasCancel || !sess.State.Active() {
		s.mu.Unlock()
		return ErrNoActiveGeneration
	}
	sess.State = types.StateCancelling
	sess.StreamingMessage = nil
	s.mu.Unlock()

	cancel()
	logging.Info().Str("project", projectID).Msg("generation cancel requested")
	return nil
}

// runLoop is the agent loop body. State transitions on sess are made under
// the service lock; the heavy work (network, tools) happens outside it.
func (s *Service) runLoop(ctx context.Context, sess *Session, transport provider.Transport, modelID string) error {
	for iter := 0; iter < s.maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		sess.State = types.StateRequesting
		sess.StreamingMessage = nil
		req := &provider.Request{
			Model:       modelID,
			Messages:    s.requestMessages(sess),
			Tools:       requestTools(sess),
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
		}
		s.mu.Unlock()

		stream, err := s.openStream(ctx, transport, req)
		if err != nil {
			return err
		}

		acc := newAccumulator()
		streamErr := s.consumeStream(ctx, sess, stream, acc)
		stream.Close()
		if streamErr != nil {
			return streamErr
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		draft := acc.finalize()

		if len(draft.ToolCalls) == 0 {
			// The draft is not cleared here: state and draft settle
			// together under one lock in StartGeneration, so no snapshot
			// can observe a streaming state without its draft.
			s.commitMessage(sess, draft)
			s.publish(event.New(event.GenerationFinished, sess.ProjectID, event.GenerationFinishedData{Message: draft}))
			return nil
		}

		// Tool round: commit the assistant message with its calls, then
		// run each call in order and commit the results.
		s.commitMessage(sess, draft)
		s.mu.Lock()
		sess.State = types.StateExecutingTools
		sess.StreamingMessage = draft
		s.mu.Unlock()

		for _, call := range draft.ToolCalls {
			if err := ctx.Err(); err != nil {
				return err
			}
			result := s.executeTool(ctx, sess, call)
			s.commitMessage(sess, &types.Message{
				ID:         ulid.Make().String(),
				Role:       types.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
				Time:       types.MessageTime{Created: time.Now().UnixMilli()},
			})
		}
		// The draft stays in place until the next iteration replaces it
		// together with the state transition to Requesting.
	}

	return ErrMaxIterationsExceeded
}

// openStream opens the provider stream, retrying establishment failures
// with backoff. Streaming errors after establishment are not retried.
func (s *Service) openStream(ctx context.Context, transport provider.Transport, req *provider.Request) (*provider.Stream, error) {
	retry := newRetryBackoff(ctx)
	var lastErr error

	for {
		stream, err := transport.Stream(ctx, req)
		if err == nil {
			return stream, nil
		}
		lastErr = err

		next := retry.NextBackOff()
		if next == backoff.Stop {
			// A cancelled context also stops the backoff; report it as
			// cancellation, not retry exhaustion.
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, &TransportError{Err: lastErr}
		}
		logging.Debug().Err(err).Dur("retry_in", next).Msg("stream open failed, retrying")
		select {
		case <-time.After(next):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// consumeStream drains the provider stream into the accumulator, surfacing
// each increment as the session's streaming draft and a streaming event.
func (s *Service) consumeStream(ctx context.Context, sess *Session, stream *provider.Stream, acc *accumulator) error {
	first := true
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TransportError{Err: err}
		}

		acc.apply(chunk)
		draft := acc.message()

		s.mu.Lock()
		if first {
			sess.State = types.StateStreaming
			first = false
		}
		sess.StreamingMessage = draft
		s.mu.Unlock()

		s.publish(event.New(event.StreamingUpdate, sess.ProjectID, event.StreamingUpdateData{
			Content:          draft.Content,
			ReasoningContent: draft.ReasoningContent,
			ToolCalls:        draft.ToolCalls,
		}))
	}
}

// executeTool runs one tool call. Failures of any kind become the tool
// result text so the model can react; they never abort the generation.
func (s *Service) executeTool(ctx context.Context, sess *Session, call types.ToolCall) string {
	s.mu.RLock()
	t, ok := sess.lookupTool(call.Name)
	s.mu.RUnlock()

	if !ok {
		return fmt.Sprintf("tool not found: %s", call.Name)
	}

	args := call.Arguments
	if args == "" {
		args = "{}"
	}

	result, err := t.Execute(ctx, json.RawMessage(args))
	if err != nil {
		logging.Debug().Err(err).Str("tool", call.Name).Msg("tool execution failed")
		return "Error: " + err.Error()
	}
	return result.Content
}

// commitMessage appends a message to the session, persists the new history
// and publishes message.added.
func (s *Service) commitMessage(sess *Session, msg *types.Message) {
	s.mu.Lock()
	sess.Messages = append(sess.Messages, msg)
	snapshot := sess.snapshotMessages()
	s.mu.Unlock()

	s.persistAsync(sess.ProjectID, snapshot)
	s.publish(event.New(event.MessageAdded, sess.ProjectID, event.MessageAddedData{Message: msg}))
}

// requestMessages builds the provider message list, prepending the system
// prompt unless the conversation already starts with one. Caller holds mu.
func (s *Service) requestMessages(sess *Session) []*types.Message {
	messages := sess.snapshotMessages()
	if s.systemPrompt == "" {
		return messages
	}
	if len(messages) > 0 && messages[0].Role == types.RoleSystem {
		return messages
	}
	system := &types.Message{Role: types.RoleSystem, Content: s.systemPrompt}
	return append([]*types.Message{system}, messages...)
}

// requestTools builds the tool schemas for a request. Caller holds mu.
func requestTools(sess *Session) []provider.ToolSchema {
	entries := sess.toolSchemas()
	if len(entries) == 0 {
		return nil
	}
	schemas := make([]provider.ToolSchema, 0, len(entries))
	for _, e := range entries {
		schemas = append(schemas, provider.ToolSchema{
			Name:        e.name,
			Description: e.description,
			Parameters:  json.RawMessage(e.parameters),
		})
	}
	return schemas
}
