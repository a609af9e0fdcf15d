package taskcore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solacelabs/agentmesh/pkg/broker"
	"github.com/solacelabs/agentmesh/pkg/protocol"
	"github.com/solacelabs/agentmesh/pkg/topic"
)

func newTestRunningTask() *RunningTask {
	return NewRunningTask(&protocol.Task{TaskID: "t1", ContextID: "ctx1", State: protocol.TaskStateWorking})
}

func TestPeerDelegator_DelegateRecordsActiveSubTask(t *testing.T) {
	b := broker.NewMemoryBroker(10)
	builder := topic.NewBuilder("ns")
	d := NewPeerDelegator(b, builder, "orchestrator")
	rt := newTestRunningTask()

	subTaskID, err := d.Delegate(context.Background(), rt, "weather-agent", "call-1", "inv-1", protocol.Message{
		Role:  protocol.RoleUser,
		Parts: []protocol.Part{protocol.TextPart("what's the weather")},
	})
	require.NoError(t, err)
	assert.Contains(t, rt.ActivePeerSubTasks, subTaskID)
	assert.Equal(t, 1, rt.PendingInvocationPeerCount["inv-1"])
}

func TestPeerDelegator_AggregatesOnlyWhenAllSubTasksReturn(t *testing.T) {
	b := broker.NewMemoryBroker(10)
	builder := topic.NewBuilder("ns")
	d := NewPeerDelegator(b, builder, "orchestrator")
	rt := newTestRunningTask()

	ctx := context.Background()
	sub1, err := d.Delegate(ctx, rt, "peer-a", "call-1", "inv-1", protocol.Message{Role: protocol.RoleUser})
	require.NoError(t, err)
	sub2, err := d.Delegate(ctx, rt, "peer-b", "call-2", "inv-1", protocol.Message{Role: protocol.RoleUser})
	require.NoError(t, err)

	_, _, ok := d.OnPeerResponse(rt, sub1, map[string]any{"result": "a"})
	assert.False(t, ok, "must wait for all sub-tasks sharing the invocation id")

	parts, invocationID, ok := d.OnPeerResponse(rt, sub2, map[string]any{"result": "b"})
	require.True(t, ok)
	assert.Equal(t, "inv-1", invocationID)
	assert.Len(t, parts, 2)
	assert.Empty(t, rt.ActivePeerSubTasks)
}

func TestPeerDelegator_RecordsPendingAndReturnedMetrics(t *testing.T) {
	b := broker.NewMemoryBroker(10)
	builder := topic.NewBuilder("ns")
	d := NewPeerDelegator(b, builder, "orchestrator")
	rec := &stubRecorder{}
	d.Metrics = rec
	rt := newTestRunningTask()

	ctx := context.Background()
	subTaskID, err := d.Delegate(ctx, rt, "peer-a", "call-1", "inv-1", protocol.Message{Role: protocol.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.peerSubtasksPending)

	_, _, ok := d.OnPeerResponse(rt, subTaskID, map[string]any{"result": "a"})
	assert.True(t, ok)
	assert.Equal(t, 1, rec.peerSubtasksReturned)
}

func TestPeerDelegator_OnPeerResponseUnknownSubTask(t *testing.T) {
	b := broker.NewMemoryBroker(10)
	builder := topic.NewBuilder("ns")
	d := NewPeerDelegator(b, builder, "orchestrator")
	rt := newTestRunningTask()

	_, _, ok := d.OnPeerResponse(rt, "never-delegated", nil)
	assert.False(t, ok)
}

func TestPeerDelegator_CancelPeersPublishesCancelRequest(t *testing.T) {
	b := broker.NewMemoryBroker(10)
	builder := topic.NewBuilder("ns")
	d := NewPeerDelegator(b, builder, "orchestrator")
	rt := newTestRunningTask()

	ctx := context.Background()
	sub, err := d.Delegate(ctx, rt, "peer-a", "call-1", "inv-1", protocol.Message{Role: protocol.RoleUser})
	require.NoError(t, err)

	sub2, err := b.Subscribe(ctx, builder.AgentRequest("peer-a"), "q")
	require.NoError(t, err)

	require.NoError(t, d.CancelPeers(ctx, rt, "parent canceled"))

	var got bool
	for range sub2.Messages() {
		got = true
		break
	}
	assert.True(t, got, "cancel request must be published on the peer's request topic")
	_ = sub
}
