package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/kiln/internal/event"
	"github.com/kilnworks/kiln/internal/provider"
	"github.com/kilnworks/kiln/internal/tool"
	"github.com/kilnworks/kiln/pkg/types"
)

// scriptedTransport plays back canned chunk sequences, one per Stream call.
type scriptedTransport struct {
	mu        sync.Mutex
	responses [][]*provider.Chunk
	requests  []*provider.Request
	openErrs  int
	recvErr   error
	block     bool
}

func (f *scriptedTransport) ID() string            { return "fake" }
func (f *scriptedTransport) Name() string          { return "Fake" }
func (f *scriptedTransport) Models() []types.Model { return nil }

func (f *scriptedTransport) Stream(ctx context.Context, req *provider.Request) (*provider.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	if f.openErrs > 0 {
		f.openErrs--
		return nil, errors.New("connection refused")
	}

	if f.block {
		return provider.NewStream(func() (*provider.Chunk, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}, nil), nil
	}

	var chunks []*provider.Chunk
	if len(f.responses) > 0 {
		chunks = f.responses[0]
		f.responses = f.responses[1:]
	}
	recvErr := f.recvErr

	i := 0
	return provider.NewStream(func() (*provider.Chunk, error) {
		if i < len(chunks) {
			c := chunks[i]
			i++
			return c, nil
		}
		if recvErr != nil {
			return nil, recvErr
		}
		return nil, io.EOF
	}, nil), nil
}

// fakeTool is a scriptable tool.
type fakeTool struct {
	name    string
	execute func(ctx context.Context, args json.RawMessage) (*tool.Result, error)
}

func (f *fakeTool) Name() string                 { return f.name }
func (f *fakeTool) Description() string          { return "fake tool" }
func (f *fakeTool) Parameters() json.RawMessage  { return json.RawMessage(`{"type":"object"}`) }
func (f *fakeTool) Execute(ctx context.Context, args json.RawMessage) (*tool.Result, error) {
	return f.execute(ctx, args)
}

func newLoopService(t *testing.T, transport provider.Transport, opts ...Option) (*Service, *event.Bus) {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	reg := provider.NewRegistry()
	reg.Register(transport)

	return NewService(newMemPersistence(), reg, bus, opts...), bus
}

func textChunks(parts ...string) []*provider.Chunk {
	var chunks []*provider.Chunk
	for _, p := range parts {
		chunks = append(chunks, &provider.Chunk{ContentDelta: p})
	}
	return chunks
}

func toolCallChunk(id, name, args string) *provider.Chunk {
	return &provider.Chunk{ToolCalls: []provider.ToolCallDelta{
		{ID: id, Name: name, ArgumentsDelta: args},
	}}
}

func TestGenerationSimpleResponse(t *testing.T) {
	transport := &scriptedTransport{responses: [][]*provider.Chunk{
		textChunks("Hello", ", world"),
	}}
	svc, bus := newLoopService(t, transport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := bus.Subscribe(ctx, "p1")
	require.NoError(t, err)

	_, err = svc.AddMessage(context.Background(), "p1", &types.Message{Role: types.RoleUser, Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, svc.StartGeneration(context.Background(), "p1", "fake/model-x"))

	snap := svc.GetSnapshot(context.Background(), "p1")
	assert.Equal(t, types.StateIdle, snap.State)
	assert.Nil(t, snap.StreamingMessage)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, types.RoleAssistant, snap.Messages[1].Role)
	assert.Equal(t, "Hello, world", snap.Messages[1].Content)

	var sawFinished bool
	deadline := time.After(2 * time.Second)
	for !sawFinished {
		select {
		case e := <-events:
			if e.Type == event.GenerationFinished {
				var data event.GenerationFinishedData
				require.NoError(t, e.Decode(&data))
				assert.Equal(t, "Hello, world", data.Message.Content)
				sawFinished = true
			}
		case <-deadline:
			t.Fatal("no generation.finished event")
		}
	}
}

func TestGenerationStreamingUpdates(t *testing.T) {
	transport := &scriptedTransport{responses: [][]*provider.Chunk{
		textChunks("a", "b", "c"),
	}}
	svc, bus := newLoopService(t, transport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := bus.Subscribe(ctx, "p1")
	require.NoError(t, err)

	require.NoError(t, svc.StartGeneration(context.Background(), "p1", "fake/m"))

	// Streaming updates carry the full accumulated snapshot, in order.
	var contents []string
	deadline := time.After(2 * time.Second)
	for len(contents) < 3 {
		select {
		case e := <-events:
			if e.Type == event.StreamingUpdate {
				var data event.StreamingUpdateData
				require.NoError(t, e.Decode(&data))
				contents = append(contents, data.Content)
			}
		case <-deadline:
			t.Fatalf("got %d streaming updates, want 3", len(contents))
		}
	}
	assert.Equal(t, []string{"a", "ab", "abc"}, contents)
}

func TestGenerationToolLoop(t *testing.T) {
	transport := &scriptedTransport{responses: [][]*provider.Chunk{
		{toolCallChunk("call_1", "echo", `{"text":"ping"}`)},
		textChunks("done"),
	}}
	svc, _ := newLoopService(t, transport)

	var gotArgs string
	tools := map[string]tool.Tool{
		"echo": &fakeTool{name: "echo", execute: func(_ context.Context, args json.RawMessage) (*tool.Result, error) {
			gotArgs = string(args)
			return &tool.Result{Content: "pong"}, nil
		}},
	}
	svc.LoadSession(context.Background(), "p1", tools, nil)

	require.NoError(t, svc.StartGeneration(context.Background(), "p1", "fake/m"))
	assert.Equal(t, `{"text":"ping"}`, gotArgs)

	snap := svc.GetSnapshot(context.Background(), "p1")
	require.Len(t, snap.Messages, 3)

	assert.Equal(t, types.RoleAssistant, snap.Messages[0].Role)
	require.Len(t, snap.Messages[0].ToolCalls, 1)
	assert.Equal(t, "echo", snap.Messages[0].ToolCalls[0].Name)

	assert.Equal(t, types.RoleTool, snap.Messages[1].Role)
	assert.Equal(t, "pong", snap.Messages[1].Content)
	assert.Equal(t, "call_1", snap.Messages[1].ToolCallID)

	assert.Equal(t, "done", snap.Messages[2].Content)

	// Two provider round-trips: the tool request and the final answer.
	transport.mu.Lock()
	assert.Len(t, transport.requests, 2)
	transport.mu.Unlock()
}

func TestGenerationToolRequestsCarrySchemas(t *testing.T) {
	transport := &scriptedTransport{responses: [][]*provider.Chunk{
		textChunks("hi"),
	}}
	svc, _ := newLoopService(t, transport)

	tools := map[string]tool.Tool{
		"echo": &fakeTool{name: "echo", execute: func(_ context.Context, _ json.RawMessage) (*tool.Result, error) {
			return &tool.Result{Content: ""}, nil
		}},
	}
	svc.LoadSession(context.Background(), "p1", tools, nil)

	require.NoError(t, svc.StartGeneration(context.Background(), "p1", "fake/m"))

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.requests, 1)
	require.Len(t, transport.requests[0].Tools, 1)
	assert.Equal(t, "echo", transport.requests[0].Tools[0].Name)
}

func TestGenerationMissingToolBecomesResult(t *testing.T) {
	transport := &scriptedTransport{responses: [][]*provider.Chunk{
		{toolCallChunk("call_1", "vanished", `{}`)},
		textChunks("recovered"),
	}}
	svc, _ := newLoopService(t, transport)

	require.NoError(t, svc.StartGeneration(context.Background(), "p1", "fake/m"))

	snap := svc.GetSnapshot(context.Background(), "p1")
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, types.RoleTool, snap.Messages[1].Role)
	assert.Equal(t, "tool not found: vanished", snap.Messages[1].Content)
}

func TestGenerationToolErrorBecomesResult(t *testing.T) {
	transport := &scriptedTransport{responses: [][]*provider.Chunk{
		{toolCallChunk("call_1", "boom", `{}`)},
		textChunks("recovered"),
	}}
	svc, _ := newLoopService(t, transport)

	tools := map[string]tool.Tool{
		"boom": &fakeTool{name: "boom", execute: func(_ context.Context, _ json.RawMessage) (*tool.Result, error) {
			return nil, errors.New("device on fire")
		}},
	}
	svc.LoadSession(context.Background(), "p1", tools, nil)

	require.NoError(t, svc.StartGeneration(context.Background(), "p1", "fake/m"))

	snap := svc.GetSnapshot(context.Background(), "p1")
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, "Error: device on fire", snap.Messages[1].Content)
	assert.Equal(t, "recovered", snap.Messages[2].Content)
}

func TestGenerationCustomToolFallback(t *testing.T) {
	transport := &scriptedTransport{responses: [][]*provider.Chunk{
		{toolCallChunk("call_1", "docs_search", `{}`)},
		textChunks("found it"),
	}}
	svc, _ := newLoopService(t, transport)

	custom := map[string]tool.Tool{
		"docs_search": &fakeTool{name: "docs_search", execute: func(_ context.Context, _ json.RawMessage) (*tool.Result, error) {
			return &tool.Result{Content: "doc body"}, nil
		}},
	}
	svc.LoadSession(context.Background(), "p1", nil, custom)

	require.NoError(t, svc.StartGeneration(context.Background(), "p1", "fake/m"))

	snap := svc.GetSnapshot(context.Background(), "p1")
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, "doc body", snap.Messages[1].Content)
}

func TestGenerationUnknownProvider(t *testing.T) {
	svc, _ := newLoopService(t, &scriptedTransport{})

	_, err := svc.AddMessage(context.Background(), "p1", &types.Message{Role: types.RoleUser, Content: "hi"})
	require.NoError(t, err)

	err = svc.StartGeneration(context.Background(), "p1", "bad/model")
	var notFound *provider.ProviderNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, `Provider "bad" not found`, err.Error())

	// Session is untouched: still idle, history unchanged.
	snap := svc.GetSnapshot(context.Background(), "p1")
	assert.Equal(t, types.StateIdle, snap.State)
	assert.Len(t, snap.Messages, 1)
}

func TestGenerationConcurrentRejected(t *testing.T) {
	transport := &scriptedTransport{block: true}
	svc, _ := newLoopService(t, transport)

	done := make(chan error, 1)
	go func() {
		done <- svc.StartGeneration(context.Background(), "p1", "fake/m")
	}()

	require.Eventually(t, func() bool {
		return svc.GetSnapshot(context.Background(), "p1").State.Active()
	}, 2*time.Second, 10*time.Millisecond)

	err := svc.StartGeneration(context.Background(), "p1", "fake/m")
	assert.ErrorIs(t, err, ErrGenerationInProgress)

	require.NoError(t, svc.CancelGeneration("p1"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked generation did not finish after cancel")
	}
}

func TestGenerationDifferentProjectsIndependent(t *testing.T) {
	transport := &scriptedTransport{block: true}
	svc, _ := newLoopService(t, transport)

	done := make(chan error, 1)
	go func() {
		done <- svc.StartGeneration(context.Background(), "p1", "fake/m")
	}()
	require.Eventually(t, func() bool {
		return svc.GetSnapshot(context.Background(), "p1").State.Active()
	}, 2*time.Second, 10*time.Millisecond)

	// Another project is free to generate (and to fail resolution).
	err := svc.StartGeneration(context.Background(), "p2", "bad/m")
	var notFound *provider.ProviderNotFoundError
	assert.ErrorAs(t, err, &notFound)

	require.NoError(t, svc.CancelGeneration("p1"))
	<-done
}

func TestGenerationCancel(t *testing.T) {
	transport := &scriptedTransport{block: true}
	svc, bus := newLoopService(t, transport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := bus.Subscribe(ctx, "p1")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- svc.StartGeneration(context.Background(), "p1", "fake/m")
	}()

	require.Eventually(t, func() bool {
		return svc.GetSnapshot(context.Background(), "p1").State.Active()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.CancelGeneration("p1"))

	select {
	case genErr := <-done:
		assert.ErrorIs(t, genErr, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("generation did not stop")
	}

	snap := svc.GetSnapshot(context.Background(), "p1")
	assert.Equal(t, types.StateIdle, snap.State)
	assert.Nil(t, snap.StreamingMessage)
	assert.Empty(t, snap.Messages)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == event.GenerationFailed {
				var data event.GenerationFailedData
				require.NoError(t, e.Decode(&data))
				assert.Equal(t, "generation cancelled", data.Reason)
				return
			}
		case <-deadline:
			t.Fatal("no generation.failed event")
		}
	}
}

func TestGenerationStreamErrorFails(t *testing.T) {
	transport := &scriptedTransport{
		responses: [][]*provider.Chunk{textChunks("par")},
		recvErr:   errors.New("connection reset"),
	}
	svc, _ := newLoopService(t, transport)

	err := svc.StartGeneration(context.Background(), "p1", "fake/m")
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)

	snap := svc.GetSnapshot(context.Background(), "p1")
	assert.Equal(t, types.StateIdle, snap.State)
	assert.Nil(t, snap.StreamingMessage)
	// The partial draft is discarded.
	assert.Empty(t, snap.Messages)
}

func TestGenerationRetriesOpenFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps")
	}
	transport := &scriptedTransport{
		openErrs:  1,
		responses: [][]*provider.Chunk{textChunks("ok")},
	}
	svc, _ := newLoopService(t, transport)

	require.NoError(t, svc.StartGeneration(context.Background(), "p1", "fake/m"))

	snap := svc.GetSnapshot(context.Background(), "p1")
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "ok", snap.Messages[0].Content)
}

func TestSnapshotStatePairsWithStreamingMessage(t *testing.T) {
	transport := &scriptedTransport{responses: [][]*provider.Chunk{
		{toolCallChunk("call_1", "echo", `{}`)},
		textChunks("a", "b", "c", "d", "e", "f", "g", "h"),
	}}
	svc, _ := newLoopService(t, transport)
	svc.LoadSession(context.Background(), "p1", map[string]tool.Tool{
		"echo": &fakeTool{name: "echo", execute: func(ctx context.Context, args json.RawMessage) (*tool.Result, error) {
			return &tool.Result{Content: "ok"}, nil
		}},
	}, nil)

	var genErr error
	genDone := make(chan struct{})
	go func() {
		genErr = svc.StartGeneration(context.Background(), "p1", "fake/m")
		close(genDone)
	}()

	// A streaming or tool-executing snapshot must always carry the draft.
	pollDone := make(chan struct{})
	var violations int
	go func() {
		defer close(pollDone)
		for {
			select {
			case <-genDone:
				return
			default:
			}
			snap := svc.GetSnapshot(context.Background(), "p1")
			if (snap.State == types.StateStreaming || snap.State == types.StateExecutingTools) &&
				snap.StreamingMessage == nil {
				violations++
			}
		}
	}()

	<-pollDone
	require.NoError(t, genErr)
	assert.Zero(t, violations)

	snap := svc.GetSnapshot(context.Background(), "p1")
	assert.Equal(t, types.StateIdle, snap.State)
	assert.Nil(t, snap.StreamingMessage)
}

// cancellingTransport cancels its own generation from inside Stream, so the
// context is already dead when the retry policy is consulted.
type cancellingTransport struct {
	svc       *Service
	projectID string
}

func (c *cancellingTransport) ID() string            { return "fake" }
func (c *cancellingTransport) Name() string          { return "Fake" }
func (c *cancellingTransport) Models() []types.Model { return nil }

func (c *cancellingTransport) Stream(ctx context.Context, req *provider.Request) (*provider.Stream, error) {
	_ = c.svc.CancelGeneration(c.projectID)
	return nil, errors.New("connection refused")
}

func TestGenerationCancelDuringRetryReportsCancellation(t *testing.T) {
	transport := &cancellingTransport{projectID: "p1"}
	svc, _ := newLoopService(t, transport)
	transport.svc = svc

	err := svc.StartGeneration(context.Background(), "p1", "fake/m")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var transportErr *TransportError
	assert.False(t, errors.As(err, &transportErr))

	snap := svc.GetSnapshot(context.Background(), "p1")
	assert.Equal(t, types.StateIdle, snap.State)
	assert.Nil(t, snap.StreamingMessage)
}

func TestGenerationMaxIterations(t *testing.T) {
	// Every round asks for another tool call; the loop must give up.
	transport := &scriptedTransport{responses: [][]*provider.Chunk{
		{toolCallChunk("c1", "echo", `{}`)},
		{toolCallChunk("c2", "echo", `{}`)},
		{toolCallChunk("c3", "echo", `{}`)},
	}}
	svc, _ := newLoopService(t, transport, WithMaxIterations(2))

	tools := map[string]tool.Tool{
		"echo": &fakeTool{name: "echo", execute: func(_ context.Context, _ json.RawMessage) (*tool.Result, error) {
			return &tool.Result{Content: "x"}, nil
		}},
	}
	svc.LoadSession(context.Background(), "p1", tools, nil)

	err := svc.StartGeneration(context.Background(), "p1", "fake/m")
	assert.ErrorIs(t, err, ErrMaxIterationsExceeded)

	snap := svc.GetSnapshot(context.Background(), "p1")
	assert.Equal(t, types.StateIdle, snap.State)
	// Two full tool rounds committed before giving up.
	assert.Len(t, snap.Messages, 4)
}

func TestGenerationSystemPromptPrepended(t *testing.T) {
	transport := &scriptedTransport{responses: [][]*provider.Chunk{
		textChunks("ok"),
	}}
	svc, _ := newLoopService(t, transport, WithSystemPrompt("be helpful"))

	_, err := svc.AddMessage(context.Background(), "p1", &types.Message{Role: types.RoleUser, Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, svc.StartGeneration(context.Background(), "p1", "fake/m"))

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.requests, 1)
	msgs := transport.requests[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	assert.Equal(t, "be helpful", msgs[0].Content)

	// The system message is request-only, not part of the history.
	assert.Len(t, svc.GetSnapshot(context.Background(), "p1").Messages, 2)
}
