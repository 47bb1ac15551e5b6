package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/entrhq/conduit/pkg/agent/tools"
	"github.com/entrhq/conduit/pkg/llm"
	"github.com/entrhq/conduit/pkg/llm/adapter"
	"github.com/entrhq/conduit/pkg/llm/llmtest"
	"github.com/entrhq/conduit/pkg/logging"
	"github.com/entrhq/conduit/pkg/messaging"
	"github.com/entrhq/conduit/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted is a Strategy driven by plain functions.
type scripted struct {
	think  func(a *Agent) (bool, error)
	act    func(a *Agent) (string, error)
	thinks int
	acts   int
	seen   []types.AgentState
}

func (s *scripted) Think(_ context.Context, a *Agent) (bool, error) {
	s.thinks++
	s.seen = append(s.seen, a.State())
	if s.think == nil {
		return true, nil
	}
	return s.think(a)
}

func (s *scripted) Act(_ context.Context, a *Agent) (string, error) {
	s.acts++
	if s.act == nil {
		return "acted", nil
	}
	return s.act(a)
}

func newTestAgent(s Strategy, opts ...AgentOption) *Agent {
	opts = append([]AgentOption{WithLogger(logging.NewNopLogger("agent"))}, opts...)
	return New(nil, s, opts...)
}

func newTestLLM(p *llmtest.Provider, cfg adapter.Config) *adapter.Adapter {
	return adapter.New(p, llmtest.NewCounter(), cfg, adapter.WithLogger(logging.NewNopLogger("adapter")))
}

func drain(q *messaging.Queue) []*types.Message {
	q.Close()
	var out []*types.Message
	for msg := range q.All(context.Background()) {
		out = append(out, msg)
	}
	return out
}

func TestRun_StopsAtMaxSteps(t *testing.T) {
	s := &scripted{}
	a := newTestAgent(s, WithMaxSteps(3))

	out, err := a.Run(context.Background(), "go")
	require.NoError(t, err)

	assert.Equal(t, 3, s.thinks)
	assert.Equal(t, 3, s.acts)
	assert.Equal(t, "Step 1: acted\nStep 2: acted\nStep 3: acted\nTerminated: Reached max steps (3)", out)
	assert.Equal(t, types.AgentStateIdle, a.State())
	assert.Equal(t, 0, a.CurrentStep())
	assert.Equal(t, []types.AgentState{types.AgentStateRunning, types.AgentStateRunning, types.AgentStateRunning}, s.seen)

	msgs := a.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "go", msgs[0].Content)
}

func TestRun_NoActionNeeded(t *testing.T) {
	s := &scripted{think: func(a *Agent) (bool, error) {
		a.MarkFinished()
		return false, nil
	}}
	a := newTestAgent(s)

	out, err := a.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Step 1: Thinking complete - no action needed", out)
	assert.Equal(t, 0, s.acts)
	assert.Equal(t, types.AgentStateIdle, a.State(), "state is restored after a finished run")
}

func TestRun_StepCounterAlreadyAtCap(t *testing.T) {
	s := &scripted{}
	a := newTestAgent(s)
	a.currentStep = a.maxSteps

	out, err := a.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Terminated: Reached max steps (10)", out)
	assert.Equal(t, 0, s.thinks)
	assert.Equal(t, 0, a.CurrentStep())
}

func TestRun_RequiresIdle(t *testing.T) {
	a := newTestAgent(&scripted{})
	a.MarkFinished()

	_, err := a.Run(context.Background(), "x")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, a.RunStreaming(context.Background(), messaging.NewQueue()), ErrInvalidState)
	assert.Empty(t, a.Messages())
}

func TestRun_ErrorRestoresState(t *testing.T) {
	boom := errors.New("boom")
	s := &scripted{think: func(*Agent) (bool, error) { return false, boom }}
	a := newTestAgent(s)

	_, err := a.Run(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, types.AgentStateIdle, a.State())
}

func TestRun_ContextCanceled(t *testing.T) {
	s := &scripted{}
	a := newTestAgent(s)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Run(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.thinks)
	assert.Equal(t, types.AgentStateIdle, a.State())
}

func TestWithState(t *testing.T) {
	a := newTestAgent(&scripted{})

	t.Run("error sets error state then restores", func(t *testing.T) {
		var during types.AgentState
		err := a.withState(types.AgentStateRunning, func() error {
			during = a.State()
			return errors.New("fail")
		})
		assert.Error(t, err)
		assert.Equal(t, types.AgentStateRunning, during)
		assert.Equal(t, types.AgentStateIdle, a.State())
	})

	t.Run("panic restores and re-panics", func(t *testing.T) {
		assert.PanicsWithValue(t, "kaboom", func() {
			_ = a.withState(types.AgentStateRunning, func() error { panic("kaboom") })
		})
		assert.Equal(t, types.AgentStateIdle, a.State())
	})

	t.Run("restores non-idle previous state", func(t *testing.T) {
		a.setState(types.AgentStateFinished)
		require.NoError(t, a.withState(types.AgentStateRunning, func() error { return nil }))
		assert.Equal(t, types.AgentStateFinished, a.State())
		a.setState(types.AgentStateIdle)
	})
}

func TestIsStuck(t *testing.T) {
	user := types.NewUserMessage
	asst := types.NewAssistantMessage

	tests := []struct {
		name      string
		threshold int
		msgs      []*types.Message
		want      bool
	}{
		{"too short", 2, []*types.Message{asst("a"), asst("a")}, false},
		{"two repeats", 2, []*types.Message{asst("a"), asst("a"), asst("a")}, true},
		{"last is user", 2, []*types.Message{asst("a"), asst("a"), user("a")}, false},
		{"last is empty", 2, []*types.Message{asst(""), asst(""), asst("")}, false},
		{"one repeat", 2, []*types.Message{user("a"), asst("a"), asst("a")}, false},
		{"repeat outside window", 2, []*types.Message{asst("a"), user("x"), asst("a"), asst("a")}, false},
		{"user copies do not count", 2, []*types.Message{user("a"), user("a"), asst("a")}, false},
		{"threshold one", 1, []*types.Message{user("q"), asst("a"), asst("a")}, true},
		{"threshold three", 3, []*types.Message{asst("a"), asst("a"), asst("a"), asst("a")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAgent(&scripted{}, WithDuplicateThreshold(tt.threshold))
			a.SetMessages(tt.msgs)
			assert.Equal(t, tt.want, a.IsStuck())
		})
	}
}

func TestHandleStuckState(t *testing.T) {
	a := newTestAgent(&scripted{}, WithNextStepPrompt("next"))
	a.HandleStuckState()
	assert.Equal(t, "Identical responses are repeating. Try a different approach than before.\nnext", a.NextStepPrompt())
}

func TestRun_StuckHandledBetweenSteps(t *testing.T) {
	s := &scripted{act: func(a *Agent) (string, error) {
		a.AddMessage(types.NewAssistantMessage("same"))
		return "same", nil
	}}
	a := newTestAgent(s, WithMaxSteps(4), WithNextStepPrompt("p"))

	_, err := a.Run(context.Background(), "")
	require.NoError(t, err)
	// stuck after steps 3 and 4
	assert.Equal(t, stuckPrompt+"\n"+stuckPrompt+"\np", a.NextStepPrompt())
}

func TestUpdateMemory(t *testing.T) {
	a := newTestAgent(&scripted{}, WithMaxMessages(3))

	require.NoError(t, a.UpdateMemory(types.RoleUser, "u", MemoryExtra{Images: []types.Image{{URL: "https://x/img.png"}}}))
	require.NoError(t, a.UpdateMemory(types.RoleAssistant, "a"))
	require.NoError(t, a.UpdateMemory(types.RoleTool, "t", MemoryExtra{Name: "answer", ToolCallID: "c1"}))
	require.NoError(t, a.UpdateMemory(types.RoleSystem, "s"))
	assert.Error(t, a.UpdateMemory(types.RoleAssistantFinished, "x"))

	msgs := a.Messages()
	require.Len(t, msgs, 3, "oldest message evicted")
	assert.Equal(t, "a", msgs[0].Content)
	assert.Equal(t, "answer", msgs[1].Name)
	assert.Equal(t, "c1", msgs[1].ToolCallID)
	assert.Equal(t, types.RoleSystem, msgs[2].Role)
}

func TestRunStreaming_AnswerTool(t *testing.T) {
	p := llmtest.New("gpt-4o",
		llmtest.ToolCalls("", types.NewToolCall("c1", "answer", `{"synthesis_brief":"greet"}`)),
		llmtest.Stream("Hel", "lo"),
	)
	coll, err := tools.DefaultRegistry().Build(tools.SpecsFor("answer", "planning"))
	require.NoError(t, err)

	a := New(newTestLLM(p, adapter.Config{}), NewToolCaller(),
		WithLogger(logging.NewNopLogger("agent")),
		WithTools(coll),
		WithSystemPrompt("sys"),
	)
	require.NoError(t, a.UpdateMemory(types.RoleUser, "hello"))

	q := messaging.NewQueue()
	require.NoError(t, a.RunStreaming(context.Background(), q))

	msgs := drain(q)
	require.Len(t, msgs, 3)
	assert.Equal(t, types.RoleAssistantStreaming, msgs[0].State())
	assert.Equal(t, "Hel", msgs[0].Content)
	assert.Equal(t, types.RoleAssistantFinished, msgs[2].State())
	assert.Equal(t, "Hello", msgs[2].Content)

	assert.Equal(t, types.AgentStateIdle, a.State())
	assert.Empty(t, a.Messages(), "memory is cleared after a streaming run")
	assert.Equal(t, 0, a.CurrentStep())
	assert.Equal(t, 2, p.Calls())

	think := p.Requests()[0]
	assert.Equal(t, "sys", think.Messages[0].Content)
	assert.Len(t, think.Tools, 2)
	assert.Equal(t, types.ToolChoiceAuto, think.ToolChoice)
}

func TestRunStreaming_AnswerStreamFailureIsRecoverable(t *testing.T) {
	answer := types.NewToolCall("c1", "answer", `{"synthesis_brief":"greet"}`)
	newAgent := func(p *llmtest.Provider, opts ...AgentOption) *Agent {
		coll, err := tools.DefaultRegistry().Build(tools.SpecsFor("answer"))
		require.NoError(t, err)
		opts = append([]AgentOption{WithLogger(logging.NewNopLogger("agent")), WithTools(coll)}, opts...)
		a := New(newTestLLM(p, adapter.Config{}), NewToolCaller(), opts...)
		require.NoError(t, a.UpdateMemory(types.RoleUser, "hello"))
		return a
	}

	t.Run("next step answers again", func(t *testing.T) {
		p := llmtest.New("gpt-4o",
			llmtest.ToolCalls("", answer),
			llmtest.FailMidStream(llm.NewStatusError(400, "bad chunk", nil), "Hel"),
			llmtest.ToolCalls("", types.NewToolCall("c2", "answer", `{"synthesis_brief":"greet"}`)),
			llmtest.Stream("Hello"),
		)
		a := newAgent(p)
		q := messaging.NewQueue()

		require.NoError(t, a.RunStreaming(context.Background(), q))
		msgs := drain(q)
		require.NotEmpty(t, msgs)
		last := msgs[len(msgs)-1]
		assert.Equal(t, types.RoleAssistantFinished, last.State())
		assert.Equal(t, "Hello", last.Content)
		assert.Equal(t, 4, p.Calls())

		retry := p.Requests()[2]
		var observed bool
		for _, m := range retry.Messages {
			if m.Role == types.RoleTool && strings.Contains(m.Content, "An error occurred during final answer streaming") {
				observed = true
			}
		}
		assert.True(t, observed, "the failed answer is observed by the next step")
	})

	t.Run("apology when no step is left", func(t *testing.T) {
		p := llmtest.New("gpt-4o",
			llmtest.ToolCalls("", answer),
			llmtest.FailMidStream(llm.NewStatusError(400, "bad chunk", nil), "Hel"),
		)
		a := newAgent(p, WithMaxSteps(1))
		q := messaging.NewQueue()

		require.NoError(t, a.RunStreaming(context.Background(), q))
		msgs := drain(q)
		require.Len(t, msgs, 2)
		assert.Equal(t, "Hel", msgs[0].Content)
		assert.Equal(t, MaxStepsMessage, msgs[1].Content)
	})
}

func TestRunStreaming_MaxStepsMessage(t *testing.T) {
	a := newTestAgent(&scripted{}, WithMaxSteps(2))
	q := messaging.NewQueue()

	require.NoError(t, a.RunStreaming(context.Background(), q))
	msgs := drain(q)
	require.Len(t, msgs, 1)
	assert.Equal(t, MaxStepsMessage, msgs[0].Content)
	assert.Equal(t, types.RoleAssistantStreaming, msgs[0].State())
}

func TestRunStreaming_FinishedOnLastStepHasNoApology(t *testing.T) {
	s := &scripted{act: func(a *Agent) (string, error) {
		a.MarkFinished()
		return "done", nil
	}}
	a := newTestAgent(s, WithMaxSteps(1))
	q := messaging.NewQueue()

	require.NoError(t, a.RunStreaming(context.Background(), q))
	assert.Empty(t, drain(q))
}

func TestRunStreaming_ErrorKeepsMemory(t *testing.T) {
	s := &scripted{think: func(*Agent) (bool, error) { return false, errors.New("upstream") }}
	a := newTestAgent(s)
	require.NoError(t, a.UpdateMemory(types.RoleUser, "x"))

	err := a.RunStreaming(context.Background(), messaging.NewQueue())
	assert.Error(t, err)
	assert.Equal(t, types.AgentStateIdle, a.State())
	assert.Len(t, a.Messages(), 1)
}

func TestEmit_WithoutQueueIsNoop(t *testing.T) {
	a := newTestAgent(&scripted{})
	a.Emit(types.NewAssistantMessage("x"))

	q := messaging.NewQueue()
	q.Close()
	a.queue = q
	a.Emit(types.NewAssistantMessage("dropped"))
	assert.Equal(t, 0, q.Pending())
}
