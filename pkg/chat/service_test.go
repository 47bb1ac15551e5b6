package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/conduit/pkg/agent"
	"github.com/entrhq/conduit/pkg/agent/tools"
	"github.com/entrhq/conduit/pkg/llm/adapter"
	"github.com/entrhq/conduit/pkg/llm/llmtest"
	"github.com/entrhq/conduit/pkg/logging"
	"github.com/entrhq/conduit/pkg/messaging"
	"github.com/entrhq/conduit/pkg/types"
)

type mockSessionStore struct {
	mock.Mock
}

func (m *mockSessionStore) Find(ctx context.Context, id string) (*Session, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*Session)
	return s, args.Error(1)
}

func (m *mockSessionStore) Save(ctx context.Context, s *Session) error {
	return m.Called(ctx, s).Error(0)
}

// runnerFunc adapts a function to Runner.
type runnerFunc func(ctx context.Context, history []*types.Message, q *messaging.Queue) error

func (f runnerFunc) Run(ctx context.Context, history []*types.Message, q *messaging.Queue) error {
	return f(ctx, history, q)
}

func newTestService(t *testing.T, store SessionStore, runner Runner, opts ...Option) (*Service, *messaging.Dispatcher) {
	t.Helper()
	d := messaging.NewDispatcher()
	opts = append([]Option{WithLogger(logging.NewNopLogger("chat"))}, opts...)
	svc, err := NewService(store, d, runner, opts...)
	require.NoError(t, err)
	return svc, d
}

// consume reads the session's SSE frames until the stop frame.
func consume(t *testing.T, d *messaging.Dispatcher, sessionID string) (frames func() []string) {
	t.Helper()
	frameSeq, err := d.Dispatch(context.Background(), sessionID)
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		out []string
		wg  sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for f := range frameSeq {
			mu.Lock()
			out = append(out, f)
			mu.Unlock()
		}
	}()
	return func() []string {
		wg.Wait()
		mu.Lock()
		defer mu.Unlock()
		return out
	}
}

func answerRunner(t *testing.T, p *llmtest.Provider) *AgentRunner {
	t.Helper()
	llm := adapter.New(p, llmtest.NewCounter(), adapter.Config{}, adapter.WithLogger(logging.NewNopLogger("adapter")))
	setup := agent.Setup{
		Name:     "chat",
		ToolList: tools.SpecsFor("answer", "terminate"),
		Prompts:  agent.Prompts{SystemPrompt: "You are helpful."},
	}
	return NewAgentRunner(agent.DefaultRegistry(tools.DefaultRegistry()), "toolcall", llm, setup)
}

func TestChat_Hello(t *testing.T) {
	p := llmtest.New("gpt-4o",
		llmtest.ToolCalls("", types.NewToolCall("c1", "answer", `{"synthesis_brief":"greet back"}`)),
		llmtest.Stream("Hi", " there"),
	)
	existing := NewSession("u1")

	store := &mockSessionStore{}
	store.On("Find", mock.Anything, existing.ID).Return(existing, nil).Once()
	store.On("Save", mock.Anything, mock.MatchedBy(func(s *Session) bool { return s.ID == existing.ID })).Return(nil).Once()

	svc, d := newTestService(t, store, answerRunner(t, p))
	d.CreateQueue(existing.ID)
	frames := consume(t, d, existing.ID)

	sess, err := svc.Chat(context.Background(), existing.ID, Request{Content: "hello"})
	require.NoError(t, err)
	store.AssertExpectations(t)

	require.Len(t, sess.History, 2)
	assert.Equal(t, types.RoleUser, sess.History[0].Role)
	assert.Equal(t, "hello", sess.History[0].Content)
	assert.Equal(t, types.RoleAssistantFinished, sess.History[1].Role)
	assert.Equal(t, "Hi there", sess.History[1].Content)
	assert.Empty(t, sess.Events)

	id := sess.History[0].Metadata[MetadataInteractionID]
	assert.NotEmpty(t, id)
	assert.Equal(t, id, sess.History[1].Metadata[MetadataInteractionID])

	got := frames()
	require.NotEmpty(t, got)
	last, err := messaging.DecodeFrame(got[len(got)-1])
	require.NoError(t, err)
	assert.Equal(t, types.RoleStop, last.Role)

	seeded := p.Requests()[0].Messages
	assert.Equal(t, "You are helpful.", seeded[0].Content)
	assert.Equal(t, "hello", seeded[len(seeded)-1].Content)
}

func TestChat_SessionNotFound(t *testing.T) {
	store := &mockSessionStore{}
	store.On("Find", mock.Anything, "missing").Return(nil, ErrNotFound)

	svc, d := newTestService(t, store, runnerFunc(func(context.Context, []*types.Message, *messaging.Queue) error {
		t.Fatal("runner must not be called")
		return nil
	}))
	q := d.CreateQueue("missing")

	_, err := svc.Chat(context.Background(), "missing", Request{Content: "hi"})
	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 404, Classify(err).StatusCode)

	msg, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, msg.IsStop())
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestChat_NoQueue(t *testing.T) {
	svc, _ := newTestService(t, NewMemorySessionStore(), runnerFunc(nil))
	_, err := svc.Chat(context.Background(), "s", Request{Content: "hi"})
	assert.ErrorIs(t, err, messaging.ErrQueueNotFound)
}

func TestChat_EmptyContent(t *testing.T) {
	svc, d := newTestService(t, NewMemorySessionStore(), runnerFunc(nil))
	q := d.CreateQueue("s")

	_, err := svc.Chat(context.Background(), "s", Request{Content: "  \n"})
	assert.ErrorIs(t, err, ErrEmptyContent)
	msg, err := q.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, msg.IsStop())
}

func TestChat_RunnerErrorBecomesEvent(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantMsg  string
	}{
		{"unknown tool", fmt.Errorf("run: %w", tools.ErrUnknownTool), "1001", "Unknown tool"},
		{"tool calls required", agent.ErrToolCallsRequired, "1003", "Tool call failed"},
		{"plain failure", errors.New("boom"), ErrorCodeInternal, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemorySessionStore()
			sess := NewSession("u")
			require.NoError(t, store.Save(context.Background(), sess))

			svc, d := newTestService(t, store, runnerFunc(func(_ context.Context, _ []*types.Message, q *messaging.Queue) error {
				require.NoError(t, q.Put(types.NewStateMessage(types.RoleAssistantRunning, "working")))
				return tt.err
			}))
			d.CreateQueue(sess.ID)
			frames := consume(t, d, sess.ID)

			got, err := svc.Chat(context.Background(), sess.ID, Request{Content: "go"})
			require.NoError(t, err)

			require.Len(t, got.Events, 2)
			assert.Equal(t, types.RoleError, got.Events[0].Role)
			assert.Equal(t, tt.wantCode, got.Events[0].Metadata["error_code"])
			assert.Equal(t, 500, got.Events[0].Metadata["status_code"])
			assert.Equal(t, tt.wantMsg, got.Events[0].Content)
			assert.Equal(t, types.RoleAssistantRunning, got.Events[1].Role)
			require.Len(t, got.History, 1, "only the user turn")

			out := frames()
			require.Len(t, out, 3)
			assert.Contains(t, out[1], `"role":"error"`)
			assert.Contains(t, out[2], `"role":"stop"`)

			saved, err := store.Find(context.Background(), sess.ID)
			require.NoError(t, err)
			assert.Len(t, saved.Events, 2)
		})
	}
}

func TestChat_ClassifiesLedger(t *testing.T) {
	store := NewMemorySessionStore()
	sess := NewSession("u")
	require.NoError(t, store.Save(context.Background(), sess))

	svc, d := newTestService(t, store, runnerFunc(func(_ context.Context, _ []*types.Message, q *messaging.Queue) error {
		for _, m := range []*types.Message{
			types.NewStateMessage(types.RoleAssistantRunning, "Thinking"),
			types.NewStateMessage(types.RoleAssistantStreaming, "An"),
			types.NewStateMessage(types.RoleDocLink, `{"id":"d1"}`),
			types.NewStateMessage(types.RoleWebLink, `{"url":"https://go.dev"}`),
			types.NewStateMessage(types.RoleAssistantFinished, "Answer"),
			types.NewStateMessage(types.RoleDebug, "ignored"),
		} {
			require.NoError(t, q.Put(m))
		}
		return nil
	}))
	d.CreateQueue(sess.ID)
	frames := consume(t, d, sess.ID)

	got, err := svc.Chat(context.Background(), sess.ID, Request{Content: "q"})
	require.NoError(t, err)
	frames()

	var eventRoles []types.Role
	for _, e := range got.Events {
		eventRoles = append(eventRoles, e.Role)
	}
	assert.Equal(t, []types.Role{types.RoleAssistantRunning, types.RoleDocLink, types.RoleWebLink}, eventRoles)
	require.Len(t, got.History, 2)
	assert.Equal(t, "Answer", got.History[1].Content)

	id := got.History[0].Metadata[MetadataInteractionID].(string)
	history, events := got.Interaction(id)
	assert.Len(t, history, 2)
	assert.Len(t, events, 3)
}

func TestChat_SecondTurnSeesHistory(t *testing.T) {
	store := NewMemorySessionStore()
	sess := NewSession("u")
	require.NoError(t, store.Save(context.Background(), sess))

	var seen [][]*types.Message
	svc, d := newTestService(t, store, runnerFunc(func(_ context.Context, history []*types.Message, q *messaging.Queue) error {
		seen = append(seen, AgentMemory(history))
		return q.Put(types.NewStateMessage(types.RoleAssistantFinished, "ok"))
	}))

	for _, content := range []string{"one", "two"} {
		d.CreateQueue(sess.ID)
		frames := consume(t, d, sess.ID)
		_, err := svc.Chat(context.Background(), sess.ID, Request{Content: content})
		require.NoError(t, err)
		frames()
	}

	require.Len(t, seen, 2)
	require.Len(t, seen[1], 3)
	assert.Equal(t, types.RoleUser, seen[1][0].Role)
	assert.Equal(t, types.RoleAssistant, seen[1][1].Role)
	assert.Equal(t, "two", seen[1][2].Content)
}

func TestChat_QueueNeverStopped(t *testing.T) {
	store := NewMemorySessionStore()
	sess := NewSession("u")
	require.NoError(t, store.Save(context.Background(), sess))

	svc, d := newTestService(t, store, runnerFunc(func(context.Context, []*types.Message, *messaging.Queue) error {
		return nil
	}), WithStopTimeout(20*time.Millisecond))
	d.CreateQueue(sess.ID)

	_, err := svc.Chat(context.Background(), sess.ID, Request{Content: "nobody listens"})
	require.ErrorIs(t, err, ErrQueueNeverStopped)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	saved, err := store.Find(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, saved.History, "nothing is saved")
}

func TestCreateSession(t *testing.T) {
	docs := NewMemoryDocumentStore(
		Document{ID: "d1", UserID: "u1", Name: "a.pdf"},
		Document{ID: "d2", UserID: "u1", Name: "b.pdf"},
		Document{ID: "d3", UserID: "u2", Name: "c.pdf"},
	)

	t.Run("without documents", func(t *testing.T) {
		store := NewMemorySessionStore()
		svc, _ := newTestService(t, store, runnerFunc(nil))
		sess, err := svc.CreateSession(context.Background(), "u1", nil)
		require.NoError(t, err)
		assert.Len(t, sess.ID, 32)
		assert.False(t, strings.Contains(sess.ID, "-"))
		assert.Empty(t, sess.Collection)

		_, err = store.Find(context.Background(), sess.ID)
		assert.NoError(t, err)
	})

	t.Run("selected documents are indexed", func(t *testing.T) {
		store := NewMemorySessionStore()
		svc, _ := newTestService(t, store, runnerFunc(nil), WithDocuments(docs, docs))
		sess, err := svc.CreateSession(context.Background(), "u1", []string{"d2", "d3"})
		require.NoError(t, err)

		require.Len(t, sess.Documents, 1)
		assert.Equal(t, "d2", sess.Documents[0].ID)
		assert.Equal(t, "c_u1_"+sess.ID, sess.Collection)
		assert.Len(t, docs.Indexed(sess.Collection), 1)

		saved, err := store.Find(context.Background(), sess.ID)
		require.NoError(t, err)
		assert.Equal(t, sess.Collection, saved.Collection)
	})

	t.Run("user without documents", func(t *testing.T) {
		svc, _ := newTestService(t, NewMemorySessionStore(), runnerFunc(nil), WithDocuments(docs, docs))
		_, err := svc.CreateSession(context.Background(), "u9", []string{"d1"})
		assert.ErrorIs(t, err, ErrDocumentsNotFound)
	})

	t.Run("documents disabled", func(t *testing.T) {
		svc, _ := newTestService(t, NewMemorySessionStore(), runnerFunc(nil))
		_, err := svc.CreateSession(context.Background(), "u1", []string{"d1"})
		assert.Error(t, err)
	})
}

func TestNewService_RequiresDependencies(t *testing.T) {
	d := messaging.NewDispatcher()
	r := runnerFunc(nil)
	_, err := NewService(nil, d, r)
	assert.Error(t, err)
	_, err = NewService(NewMemorySessionStore(), nil, r)
	assert.Error(t, err)
	_, err = NewService(NewMemorySessionStore(), d, nil)
	assert.Error(t, err)
}
