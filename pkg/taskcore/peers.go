package taskcore

import (
	"context"
	"fmt"

	"github.com/solacelabs/agentmesh/pkg/broker"
	"github.com/solacelabs/agentmesh/pkg/observability"
	"github.com/solacelabs/agentmesh/pkg/protocol"
	"github.com/solacelabs/agentmesh/pkg/topic"
)

// callPeerAgentTool is the well-known tool name the driver loop treats
// as long-running peer delegation rather than a local tool dispatch
// (spec §4.7.4).
const callPeerAgentTool = "call_peer_agent"

// IsPeerDelegationCall reports whether toolCall is a call-peer-agent
// invocation.
func IsPeerDelegationCall(tc *ToolCall) bool {
	return tc != nil && tc.Name == callPeerAgentTool
}

// PeerDelegator publishes peer requests and correlates their async
// responses back into a RunningTask's driver loop (spec §4.7.4). One
// PeerDelegator is shared by all tasks belonging to one agent app; it
// is not specific to a single task.
type PeerDelegator struct {
	adapter broker.Adapter
	topics  *topic.Builder
	agent   string

	// Metrics is optional; a nil value records nothing (spec §4.14
	// "peer subtasks pending/returned").
	Metrics observability.Recorder
}

// NewPeerDelegator binds a PeerDelegator to the owning agent's name,
// used to address its own peer-response subscription.
func NewPeerDelegator(adapter broker.Adapter, topics *topic.Builder, agentName string) *PeerDelegator {
	return &PeerDelegator{adapter: adapter, topics: topics, agent: agentName}
}

// Delegate publishes a peer request for one sub-task and records the
// delegation on rt without blocking for the response (spec §4.7.4:
// "does not block").
func (d *PeerDelegator) Delegate(ctx context.Context, rt *RunningTask, peerAgentName, adkFunctionCallID, invocationID string, message protocol.Message) (subTaskID string, err error) {
	subTaskID = fmt.Sprintf("%s.%s", rt.Task.TaskID, adkFunctionCallID)

	req := protocol.NewRequest(subTaskID, protocol.MethodMessageSend, protocol.SendMessageParams{
		Message: message,
		TaskID:  subTaskID,
	})
	payload, err := marshalEnvelope(req)
	if err != nil {
		return "", err
	}

	replyTopic := d.topics.AgentPeerResponse(d.agent, subTaskID)
	if err := d.adapter.Publish(ctx, d.topics.AgentRequest(peerAgentName), payload, map[string]any{
		"replyTo": replyTopic,
	}); err != nil {
		return "", fmt.Errorf("taskcore: publish peer request: %w", err)
	}

	rt.mu.Lock()
	rt.ActivePeerSubTasks[subTaskID] = PeerDelegation{
		PeerAgentName:     peerAgentName,
		ADKFunctionCallID: adkFunctionCallID,
		InvocationID:      invocationID,
	}
	rt.PendingInvocationPeerCount[invocationID]++
	rt.mu.Unlock()

	if d.Metrics != nil {
		d.Metrics.RecordPeerSubtaskPending()
	}

	return subTaskID, nil
}

// OnPeerResponse correlates an inbound peer response by sub_task_id,
// storing it into parallel_results_by_invocation. When every sub-task
// sharing the invocation id has responded, it returns the synthesized
// tool-role parts ready to re-trigger the driver loop; otherwise it
// returns ok=false to signal the caller should keep waiting
// (spec §4.7.4).
func (d *PeerDelegator) OnPeerResponse(rt *RunningTask, subTaskID string, payload any) (parts []protocol.Part, invocationID string, ok bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	delegation, known := rt.ActivePeerSubTasks[subTaskID]
	if !known {
		return nil, "", false
	}
	delete(rt.ActivePeerSubTasks, subTaskID)
	if d.Metrics != nil {
		d.Metrics.RecordPeerSubtaskReturned()
	}

	invocationID = delegation.InvocationID
	rt.ParallelResultsByInvocation[invocationID] = append(rt.ParallelResultsByInvocation[invocationID], PeerResult{
		SubTaskID:         subTaskID,
		ADKFunctionCallID: delegation.ADKFunctionCallID,
		PeerAgentName:     delegation.PeerAgentName,
		Payload:           payload,
	})
	rt.PendingInvocationPeerCount[invocationID]--

	if rt.PendingInvocationPeerCount[invocationID] > 0 {
		return nil, invocationID, false
	}

	results := rt.ParallelResultsByInvocation[invocationID]
	delete(rt.ParallelResultsByInvocation, invocationID)
	delete(rt.PendingInvocationPeerCount, invocationID)

	parts = make([]protocol.Part, 0, len(results))
	for _, r := range results {
		parts = append(parts, protocol.Part{
			Kind: protocol.PartKindData,
			Data: map[string]any{
				"adk_function_call_id": r.ADKFunctionCallID,
				"peer_tool_name":       r.PeerAgentName,
				"payload":              r.Payload,
			},
		})
	}
	return parts, invocationID, true
}

// CancelPeers publishes tasks/cancel on every peer request topic for
// rt's still-active sub-tasks (spec §4.7.4 cancellation propagation).
func (d *PeerDelegator) CancelPeers(ctx context.Context, rt *RunningTask, reason string) error {
	rt.mu.Lock()
	active := make(map[string]PeerDelegation, len(rt.ActivePeerSubTasks))
	for k, v := range rt.ActivePeerSubTasks {
		active[k] = v
	}
	rt.mu.Unlock()

	var firstErr error
	for subTaskID, delegation := range active {
		req := protocol.NewRequest(subTaskID, protocol.MethodTasksCancel, protocol.CancelTaskParams{
			TaskID: subTaskID,
			Reason: reason,
		})
		payload, err := marshalEnvelope(req)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := d.adapter.Publish(ctx, d.topics.AgentRequest(delegation.PeerAgentName), payload, nil); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("taskcore: cancel peer %s: %w", subTaskID, err)
			}
		}
	}
	return firstErr
}
