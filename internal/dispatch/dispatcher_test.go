package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/normalize"
	"github.com/sells-group/intake-cli/internal/resilience"
	"github.com/sells-group/intake-cli/pkg/agent"
	"github.com/sells-group/intake-cli/pkg/anthropic"
)

type funcCaller func(ctx context.Context, call Call) (map[string]any, error)

func (f funcCaller) Call(ctx context.Context, call Call) (map[string]any, error) {
	return f(ctx, call)
}

type recordingCaller struct {
	mu    sync.Mutex
	calls map[string]Call
	reply func(ctx context.Context, call Call) (map[string]any, error)
}

func (c *recordingCaller) Call(ctx context.Context, call Call) (map[string]any, error) {
	c.mu.Lock()
	if c.calls == nil {
		c.calls = map[string]Call{}
	}
	c.calls[call.Route.Name] = call
	c.mu.Unlock()
	if c.reply == nil {
		return map[string]any{"result": "**ok**"}, nil
	}
	return c.reply(ctx, call)
}

func threeRoutes(t *testing.T) *RoutingTable {
	t.Helper()
	table, err := NewRoutingTable([]Route{
		{Name: "A", Endpoint: "http://a", Shaping: ShapeReference},
		{Name: "B", Endpoint: "http://b", Shaping: ShapeReference},
		{Name: "C", Endpoint: "http://c", Shaping: ShapeSection, Section: "Common"},
	})
	require.NoError(t, err)
	return table
}

func TestDispatch_PartialFailureIsolation(t *testing.T) {
	t.Parallel()

	caller := &recordingCaller{reply: func(_ context.Context, call Call) (map[string]any, error) {
		if call.Route.Name == "B" {
			return nil, errors.New("agent: HTTP 502: bad gateway")
		}
		return map[string]any{"result": "**" + call.Route.Name + "**", "tokens": 3}, nil
	}}
	d := NewDispatcher(threeRoutes(t), WithCaller(TransportHTTP, caller), WithNormalizer(normalize.New()))

	res, err := d.Dispatch(context.Background(), Request{CaseID: "C-1", Submission: sampleSubmission(), ThreadID: 42})
	require.NoError(t, err)

	require.Len(t, res.Agents, 3)
	assert.True(t, model.IsErrorReply(res.Agents["B"]))
	assert.Contains(t, res.Agents["B"]["error"], "502")
	assert.Equal(t, "<p><strong>A</strong></p>", res.Agents["A"]["result"])
	assert.Equal(t, 3, res.Agents["C"]["tokens"])
	assert.Equal(t, []string{"B"}, res.Agents.Failed())
}

func TestDispatch_ThreadIDStability(t *testing.T) {
	t.Parallel()

	caller := &recordingCaller{}
	d := NewDispatcher(threeRoutes(t), WithCaller(TransportHTTP, caller))

	for range 2 {
		res, err := d.Dispatch(context.Background(), Request{CaseID: "C-1", ThreadID: "777"})
		require.NoError(t, err)
		assert.Equal(t, 777, res.ThreadID)
		assert.False(t, res.GeneratedThread)
		for _, c := range caller.calls {
			assert.Equal(t, 777, c.ThreadID)
		}
	}

	for _, v := range []any{"", nil, "abc"} {
		res, err := d.Dispatch(context.Background(), Request{CaseID: "C-1", ThreadID: v})
		require.NoError(t, err)
		assert.True(t, res.GeneratedThread)
		assert.GreaterOrEqual(t, res.ThreadID, 1)
		assert.LessOrEqual(t, res.ThreadID, 100000)
		for _, c := range caller.calls {
			assert.Equal(t, res.ThreadID, c.ThreadID, "every agent shares the id")
		}
	}
}

func TestDispatch_MessagesFollowShaping(t *testing.T) {
	t.Parallel()

	caller := &recordingCaller{}
	d := NewDispatcher(threeRoutes(t), WithCaller(TransportHTTP, caller))

	_, err := d.Dispatch(context.Background(), Request{
		CaseID:     "C-9",
		Submission: sampleSubmission(),
		Edits:      map[string]any{"sicdesc": "Cafe"},
		ThreadID:   5,
	})
	require.NoError(t, err)

	assert.Equal(t, `case_id : C-9,modified_data : {"sicdesc":"Cafe"}`, caller.calls["A"].Message)
	assert.Contains(t, caller.calls["C"].Message, `{"Common":`)
	assert.Equal(t, "C-9", caller.calls["C"].CaseID)
}

func TestDispatch_CallerContextEnds(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	caller := funcCaller(func(ctx context.Context, call Call) (map[string]any, error) {
		if call.Route.Name == "A" {
			return map[string]any{"result": "done"}, nil
		}
		<-release
		return map[string]any{"result": "late"}, nil
	})
	d := NewDispatcher(threeRoutes(t), WithCaller(TransportHTTP, caller))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := d.Dispatch(ctx, Request{CaseID: "C-1"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, res.Agents, 3)
	assert.Equal(t, "done", res.Agents["A"]["result"])
	assert.Equal(t, model.ErrorReply("timeout"), res.Agents["B"])
	assert.Equal(t, model.ErrorReply("timeout"), res.Agents["C"])
}

func TestDispatch_PerCallTimeout(t *testing.T) {
	t.Parallel()

	caller := funcCaller(func(ctx context.Context, call Call) (map[string]any, error) {
		if call.Route.Name == "B" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return map[string]any{"result": "ok"}, nil
	})
	d := NewDispatcher(threeRoutes(t), WithCaller(TransportHTTP, caller), WithCallTimeout(20*time.Millisecond))

	res, err := d.Dispatch(context.Background(), Request{CaseID: "C-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, res.Agents.Failed())
	assert.Contains(t, res.Agents["B"]["error"], "deadline exceeded")
}

func TestDispatch_RecoversPanics(t *testing.T) {
	t.Parallel()

	caller := funcCaller(func(_ context.Context, call Call) (map[string]any, error) {
		if call.Route.Name == "C" {
			panic("boom")
		}
		return map[string]any{"result": "ok"}, nil
	})
	d := NewDispatcher(threeRoutes(t), WithCaller(TransportHTTP, caller))

	res, err := d.Dispatch(context.Background(), Request{CaseID: "C-1"})
	require.NoError(t, err)
	assert.Equal(t, "panic: boom", res.Agents["C"]["error"])
	assert.Len(t, res.Agents, 3)
}

func TestDispatch_ConcurrencyLimit(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	caller := funcCaller(func(context.Context, Call) (map[string]any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return map[string]any{}, nil
	})
	d := NewDispatcher(threeRoutes(t), WithCaller(TransportHTTP, caller), WithConcurrency(1))

	res, err := d.Dispatch(context.Background(), Request{CaseID: "C-1"})
	require.NoError(t, err)
	assert.Len(t, res.Agents, 3)
	assert.Equal(t, int32(1), peak.Load())
}

func TestDispatch_BreakerOpens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	caller := funcCaller(func(_ context.Context, call Call) (map[string]any, error) {
		if call.Route.Name == "B" {
			calls.Add(1)
			return nil, errors.New("down")
		}
		return map[string]any{}, nil
	})
	breakers := resilience.NewBreakers(AgentBreakerConfig(1, time.Hour))
	d := NewDispatcher(threeRoutes(t), WithCaller(TransportHTTP, caller), WithBreakers(breakers))

	_, err := d.Dispatch(context.Background(), Request{CaseID: "C-1"})
	require.NoError(t, err)
	res, err := d.Dispatch(context.Background(), Request{CaseID: "C-1"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, res.Agents["B"]["error"], "circuit")
	assert.Equal(t, resilience.CircuitOpen, breakers.States()["B"])
}

func TestDispatch_MissingCaller(t *testing.T) {
	t.Parallel()

	table, err := NewRoutingTable([]Route{{Name: "L", Transport: TransportLLM}})
	require.NoError(t, err)

	res, err := NewDispatcher(table).Dispatch(context.Background(), Request{CaseID: "C-1"})
	require.NoError(t, err)
	assert.True(t, model.IsErrorReply(res.Agents["L"]))
}

func TestDispatch_RequiresCaseID(t *testing.T) {
	t.Parallel()

	_, err := NewDispatcher(threeRoutes(t)).Dispatch(context.Background(), Request{})
	assert.Equal(t, model.FaultValidation, model.KindOf(err))
}

type mockAgentClient struct{ mock.Mock }

func (m *mockAgentClient) Query(ctx context.Context, endpoint string, req agent.Request) (map[string]any, error) {
	args := m.Called(ctx, endpoint, req)
	out, _ := args.Get(0).(map[string]any)
	return out, args.Error(1)
}

func TestHTTPCaller(t *testing.T) {
	t.Parallel()

	client := &mockAgentClient{}
	route := Route{Name: "P", Endpoint: "http://p/query", SendConfig: true, Registry: map[string]any{"AgentID": "p-1"}}
	client.On("Query", mock.Anything, "http://p/query", mock.MatchedBy(func(r agent.Request) bool {
		return r.Message == "hello" && r.ThreadID == 9 && r.AgentConfig["AgentID"] == "p-1"
	})).Return(map[string]any{"result": "x"}, nil)

	out, err := HTTPCaller{Client: client}.Call(context.Background(), Call{Route: route, Message: "hello", ThreadID: 9})
	require.NoError(t, err)
	assert.Equal(t, "x", out["result"])
	client.AssertExpectations(t)
}

type mockLLM struct{ mock.Mock }

func (m *mockLLM) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*anthropic.MessageResponse)
	return out, args.Error(1)
}

func TestLLMCaller(t *testing.T) {
	t.Parallel()

	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return r.System == "from registry" && r.UserID == "C-1:3" && r.Messages[0].Content == "msg"
	})).Return(&anthropic.MessageResponse{Model: "claude-x", Text: "answer"}, nil)

	route := Route{Name: "L", Transport: TransportLLM, Registry: map[string]any{
		"Configuration": map[string]any{"system_message": "from registry"},
	}}
	out, err := LLMCaller{Client: llm}.Call(context.Background(), Call{Route: route, CaseID: "C-1", Message: "msg", ThreadID: 3})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "answer", "thread_id": 3, "model": "claude-x"}, out)
	llm.AssertExpectations(t)
}

func TestLLMCaller_Error(t *testing.T) {
	t.Parallel()

	llm := &mockLLM{}
	llm.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))

	_, err := LLMCaller{Client: llm}.Call(context.Background(), Call{Route: Route{Name: "L", System: "s"}})
	assert.ErrorContains(t, err, "overloaded")
}
