package taskcore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solacelabs/agentmesh/pkg/broker"
	"github.com/solacelabs/agentmesh/pkg/embed"
	"github.com/solacelabs/agentmesh/pkg/protocol"
	"github.com/solacelabs/agentmesh/pkg/session"
	"github.com/solacelabs/agentmesh/pkg/topic"
)

type scriptedLLM struct {
	events []LLMEvent
	err    error
}

func (s *scriptedLLM) StreamTurn(ctx context.Context, messages []LLMMessage, tools []ToolSpec) (<-chan LLMEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan LLMEvent, len(s.events))
	for _, e := range s.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func newTestDriver(t *testing.T, llm LLMClient) (*Driver, session.Service, *session.GetRequest, session.Session, *broker.MemoryBroker) {
	t.Helper()
	svc := session.InMemoryService()
	getReq := &session.GetRequest{AppName: "app", UserID: "alice", SessionID: "sess"}
	_, err := svc.Create(context.Background(), &session.CreateRequest{AppName: "app", UserID: "alice", SessionID: "sess"})
	require.NoError(t, err)
	resp, err := svc.Get(context.Background(), getReq)
	require.NoError(t, err)

	b := broker.NewMemoryBroker(10)
	builder := topic.NewBuilder("ns")
	pub := NewPublisher(b, builder.GatewayStatus("gw", "t1"), builder.GatewayResponse("gw", "t1"))

	d := &Driver{
		LLM:       llm,
		Session:   svc,
		Publisher: pub,
		Config:    DefaultConfig(),
	}
	return d, svc, getReq, resp.Session, b
}

func TestDriver_CompletesOnPlainTextResponse(t *testing.T) {
	llm := &scriptedLLM{events: []LLMEvent{
		{Type: "text", Text: "hello there"},
	}}
	d, _, getReq, sess, _ := newTestDriver(t, llm)
	rt := NewRunningTask(&protocol.Task{TaskID: "t1", ContextID: "ctx1", State: protocol.TaskStateWorking})

	paused, err := d.Run(context.Background(), rt, getReq, sess, nil)
	require.NoError(t, err)
	assert.False(t, paused)
	assert.Equal(t, protocol.TaskStateCompleted, rt.Task.State)
}

func TestDriver_PausesOnLongRunningTool(t *testing.T) {
	llm := &scriptedLLM{events: []LLMEvent{
		{Type: "tool_call", ToolCall: &ToolCall{ID: "call-1", Name: "slow_tool"}, LongRunningToolIDs: []string{"call-1"}},
	}}
	d, _, getReq, sess, _ := newTestDriver(t, llm)
	rt := NewRunningTask(&protocol.Task{TaskID: "t1", ContextID: "ctx1", State: protocol.TaskStateWorking})

	paused, err := d.Run(context.Background(), rt, getReq, sess, nil)
	require.NoError(t, err)
	assert.True(t, paused)
	assert.Contains(t, rt.PendingLongRunningTools, "call-1")
}

func TestDriver_CancellationDuringStreamCancelsTask(t *testing.T) {
	llm := &scriptedLLM{events: []LLMEvent{
		{Type: "text", Text: "partial"},
		{Type: "text", Text: "more"},
	}}
	d, _, getReq, sess, _ := newTestDriver(t, llm)
	rt := NewRunningTask(&protocol.Task{TaskID: "t1", ContextID: "ctx1", State: protocol.TaskStateWorking})
	rt.Cancel()

	_, err := d.Run(context.Background(), rt, getReq, sess, nil)
	assert.Error(t, err)
	assert.Equal(t, protocol.TaskStateCanceled, rt.Task.State)
}

func TestDriver_ResolvesLateEmbedsBeforeFinalFlush(t *testing.T) {
	llm := &scriptedLLM{events: []LLMEvent{
		{Type: "text", Text: "result: «upper:done»"},
	}}
	d, _, getReq, sess, b := newTestDriver(t, llm)
	d.EmbedResolver = embed.NewResolver(2)
	d.EmbedResolver.Register("upper", embed.PhaseLate, func(ctx context.Context, expr string, rc *embed.Context) (string, *embed.Signal, error) {
		return expr + "!", nil, nil
	})
	rt := NewRunningTask(&protocol.Task{TaskID: "t1", ContextID: "ctx1", State: protocol.TaskStateWorking})

	builder := topic.NewBuilder("ns")
	sub, err := b.Subscribe(context.Background(), builder.GatewayStatus("gw", "t1"), "q")
	require.NoError(t, err)

	_, err = d.Run(context.Background(), rt, getReq, sess, nil)
	require.NoError(t, err)

	// publishLLMEvent emits the raw streamed chunk first; finalize's
	// flush is the later message carrying the resolved text.
	first := <-sub.Messages()
	require.NotNil(t, first)
	second := <-sub.Messages()
	require.NotNil(t, second)

	assert.Contains(t, string(second.Payload), "result: done!")
	assert.NotContains(t, string(second.Payload), "«")
}

func TestDriver_LLMCallLimitExceeded(t *testing.T) {
	llm := &scriptedLLM{events: []LLMEvent{{Type: "text", Text: "x"}}}
	d, _, getReq, sess, _ := newTestDriver(t, llm)
	d.Config.MaxLLMCallsPerTask = 1
	rt := NewRunningTask(&protocol.Task{TaskID: "t1", ContextID: "ctx1", State: protocol.TaskStateWorking})
	rt.LLMCallCount = 1

	_, err := d.Run(context.Background(), rt, getReq, sess, nil)
	require.Error(t, err)
	_, ok := err.(*LlmCallsLimitExceededError)
	assert.True(t, ok)
	assert.Equal(t, protocol.TaskStateFailed, rt.Task.State)
}

func TestDriver_RecordsTaskTerminalMetric(t *testing.T) {
	llm := &scriptedLLM{events: []LLMEvent{{Type: "text", Text: "hello"}}}
	d, _, getReq, sess, _ := newTestDriver(t, llm)
	rec := &stubRecorder{}
	d.Metrics = rec
	rt := NewRunningTask(&protocol.Task{TaskID: "t1", ContextID: "ctx1", State: protocol.TaskStateWorking})

	_, err := d.Run(context.Background(), rt, getReq, sess, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{string(protocol.TaskStateCompleted)}, rec.taskTerminalStates)
}

func TestDriver_NilMetricsRecordsNothing(t *testing.T) {
	llm := &scriptedLLM{events: []LLMEvent{{Type: "text", Text: "hello"}}}
	d, _, getReq, sess, _ := newTestDriver(t, llm)
	rt := NewRunningTask(&protocol.Task{TaskID: "t1", ContextID: "ctx1", State: protocol.TaskStateWorking})

	assert.NotPanics(t, func() {
		_, err := d.Run(context.Background(), rt, getReq, sess, nil)
		require.NoError(t, err)
	})
}
