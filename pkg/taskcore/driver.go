package taskcore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solacelabs/agentmesh/pkg/agent"
	"github.com/solacelabs/agentmesh/pkg/embed"
	"github.com/solacelabs/agentmesh/pkg/observability"
	"github.com/solacelabs/agentmesh/pkg/protocol"
	"github.com/solacelabs/agentmesh/pkg/session"
)

func marshalEnvelope(e *protocol.Envelope) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("taskcore: marshal envelope: %w", err)
	}
	return payload, nil
}

// Config bounds the driver loop's resource usage (spec §4.7.6, §4.7.3).
type Config struct {
	MaxLLMCallsPerTask int
	CompactionThreshold float64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{MaxLLMCallsPerTask: 25, CompactionThreshold: defaultCompactionThreshold}
}

// Driver runs one task's complete lifecycle: the LLM+tools+peers loop
// (spec §4.7.2), context compaction on overflow (§4.7.3), and streaming
// publication (§4.7.5). Grounded on the teacher's Agent.Run orchestration
// idiom (pkg/agent/agent.go, orchestration.go), generalised from an
// in-process channel-driven loop to one that persists every step through
// the session service and publishes every step onto the broker.
//
// Tool dispatch for ordinary (non-long-running) function calls happens
// inside the concrete LLMClient implementation: it owns the inner
// call-LLM/invoke-tool/continue loop and only surfaces a "text" or
// "tool_call" event to Run once a turn has something worth publishing.
// Run itself only ever correlates long-running tool responses and peer
// delegation results, both of which can span driver-loop re-entries.
type Driver struct {
	LLM           LLMClient
	Tools         []ToolSpec
	Session       session.Service
	Publisher     *Publisher
	Peers         *PeerDelegator
	Compactor     *Compactor
	EmbedResolver *embed.Resolver
	Config        Config

	// Metrics is optional; a nil value records nothing (spec §4.14
	// "task terminal states by kind").
	Metrics observability.Recorder
}

// Run drives rt to completion or a pause point. It returns
// (paused=true, nil) when one or more long-running tools are awaited
// (spec §4.7.2 step 3), and otherwise finalizes the task with a
// terminal event before returning.
func (d *Driver) Run(ctx context.Context, rt *RunningTask, getReq *session.GetRequest, sess session.Session, history []LLMMessage) (paused bool, err error) {
	if d.Config.MaxLLMCallsPerTask > 0 && rt.LLMCallCount >= d.Config.MaxLLMCallsPerTask {
		limitErr := &LlmCallsLimitExceededError{TaskID: rt.Task.TaskID, Limit: d.Config.MaxLLMCallsPerTask}
		d.finalizeFailed(ctx, rt, limitErr.Error())
		return false, limitErr
	}
	rt.LLMCallCount++

	if err := d.appendContextSettingEvent(ctx, rt, getReq, sess); err != nil {
		d.finalizeFailed(ctx, rt, err.Error())
		return false, err
	}

	events, err := d.LLM.StreamTurn(ctx, history, d.Tools)
	if err != nil {
		return d.handleStreamError(ctx, rt, getReq, sess, history, err)
	}

	var syncResponses []protocol.Part
	for evt := range events {
		if rt.IsCanceled() {
			cancelErr := &TaskCancelledError{TaskID: rt.Task.TaskID}
			d.finalizeCanceled(ctx, rt)
			return false, cancelErr
		}

		if evt.Err != nil {
			return d.handleStreamError(ctx, rt, getReq, sess, history, evt.Err)
		}

		if rt.InvocationID == "" {
			rt.InvocationID = rt.Task.TaskID + "#" + time.Now().Format(time.RFC3339Nano)
		}

		if len(evt.LongRunningToolIDs) > 0 {
			for _, id := range evt.LongRunningToolIDs {
				rt.PendingLongRunningTools[id] = true
			}
		}

		if err := d.publishLLMEvent(ctx, rt, evt); err != nil {
			d.finalizeFailed(ctx, rt, err.Error())
			return false, err
		}

		if evt.FunctionResponse != nil && rt.PendingLongRunningTools[evt.FunctionResponse.ToolCallID] {
			delete(rt.PendingLongRunningTools, evt.FunctionResponse.ToolCallID)
			syncResponses = append(syncResponses, protocol.Part{
				Kind: protocol.PartKindData,
				Data: map[string]any{
					"tool_call_id": evt.FunctionResponse.ToolCallID,
					"payload":      evt.FunctionResponse.Payload,
				},
			})
		}
	}

	if len(rt.PendingLongRunningTools) > 0 {
		if len(syncResponses) > 0 {
			rt.SyncResponsesByInvocation[rt.InvocationID] = append(rt.SyncResponsesByInvocation[rt.InvocationID], syncResponses...)
		}
		return true, nil
	}

	if len(syncResponses) > 0 {
		toolMessage := LLMMessage{Role: "tool", Parts: partsToAny(syncResponses)}
		return d.Run(ctx, rt, getReq, sess, append(history, toolMessage))
	}

	d.finalizeCompleted(ctx, rt)
	return false, nil
}

func partsToAny(parts []protocol.Part) []any {
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out
}

// appendContextSettingEvent appends the system event carrying
// a2a_context as state_delta before every driver-loop entry
// (spec §4.7.2 step 1).
func (d *Driver) appendContextSettingEvent(ctx context.Context, rt *RunningTask, getReq *session.GetRequest, sess session.Session) error {
	evt := agent.NewEvent(rt.InvocationID)
	evt.Author = agent.AuthorSystem
	evt.Actions.StateDelta["a2a_context"] = rt.ExternalRequestContext
	_, err := session.AppendEventWithRetry(ctx, d.Session, getReq, sess, evt)
	return err
}

// handleStreamError inspects a driver-loop error for the context
// overflow markers (spec §4.7.3) and either runs a compaction pass and
// retries, or finalizes the task as failed.
func (d *Driver) handleStreamError(ctx context.Context, rt *RunningTask, getReq *session.GetRequest, sess session.Session, history []LLMMessage, streamErr error) (bool, error) {
	if !IsContextOverflow(streamErr) {
		d.finalizeFailed(ctx, rt, streamErr.Error())
		return false, streamErr
	}

	if rt.CompactionRetries >= maxCompactionRetries {
		exhausted := &CompactionExhaustedError{TaskID: rt.Task.TaskID, Retries: rt.CompactionRetries}
		d.finalizeWithMessage(ctx, rt, protocol.TaskStateFailed, "unable to complete, the conversation is too long to summarize")
		return false, exhausted
	}
	rt.CompactionRetries++

	result, err := d.Compactor.Compact(ctx, d.Session, getReq, sess)
	if err != nil {
		if _, ok := err.(*InsufficientHistoryError); ok {
			d.finalizeWithMessage(ctx, rt, protocol.TaskStateFailed, "conversation too short to summarize")
			return false, err
		}
		d.finalizeFailed(ctx, rt, err.Error())
		return false, err
	}

	if rt.IsRoot() {
		rt.PendingSummaryNotification = result.Summary
	}

	refreshed, rerr := d.Session.Get(ctx, getReq)
	if rerr != nil {
		d.finalizeFailed(ctx, rt, rerr.Error())
		return false, rerr
	}
	return d.Run(ctx, rt, getReq, refreshed.Session, history)
}

// publishLLMEvent converts one LLMEvent into an A2A status update and
// publishes it (spec §4.7.2 step 2c).
func (d *Driver) publishLLMEvent(ctx context.Context, rt *RunningTask, evt LLMEvent) error {
	switch evt.Type {
	case "text":
		rt.StreamBuffer += evt.Text
		return d.Publisher.PublishStatus(ctx, &protocol.TaskStatusUpdateEvent{
			TaskID:    rt.Task.TaskID,
			ContextID: rt.Task.ContextID,
			State:     protocol.TaskStateWorking,
			Message: &protocol.Message{
				Role:  protocol.RoleAgent,
				Parts: []protocol.Part{protocol.TextPart(evt.Text)},
			},
			Final:     false,
			Timestamp: time.Now(),
		})
	case "tool_call":
		return d.Publisher.PublishStatus(ctx, &protocol.TaskStatusUpdateEvent{
			TaskID:    rt.Task.TaskID,
			ContextID: rt.Task.ContextID,
			State:     protocol.TaskStateWorking,
			Final:     false,
			Timestamp: time.Now(),
			Metadata:  map[string]any{"tool_call": evt.ToolCall},
		})
	default:
		return nil
	}
}

func (d *Driver) finalizeCompleted(ctx context.Context, rt *RunningTask) {
	d.finalize(ctx, rt, protocol.TaskStateCompleted, "")
}

func (d *Driver) finalizeFailed(ctx context.Context, rt *RunningTask, reason string) {
	d.finalize(ctx, rt, protocol.TaskStateFailed, reason)
}

func (d *Driver) finalizeCanceled(ctx context.Context, rt *RunningTask) {
	d.finalize(ctx, rt, protocol.TaskStateCanceled, "")
	if d.Peers != nil {
		_ = d.Peers.CancelPeers(ctx, rt, "parent task canceled")
	}
}

func (d *Driver) finalizeWithMessage(ctx context.Context, rt *RunningTask, state protocol.TaskState, message string) {
	d.finalize(ctx, rt, state, message)
}

// finalize flushes the streaming buffer, sets the terminal state, and
// publishes the terminal Task event. Terminal events always carry
// final=true and any buffered stream fragments are flushed first
// (spec §4.7.1, §4.7.5).
func (d *Driver) finalize(ctx context.Context, rt *RunningTask, state protocol.TaskState, reason string) {
	if rt.StreamBuffer != "" {
		flushed := rt.StreamBuffer
		if d.EmbedResolver != nil {
			if resolved, err := d.EmbedResolver.ResolveLate(flushed); err == nil {
				flushed = resolved
			}
		}
		_ = d.Publisher.PublishStatus(ctx, &protocol.TaskStatusUpdateEvent{
			TaskID:    rt.Task.TaskID,
			ContextID: rt.Task.ContextID,
			State:     protocol.TaskStateWorking,
			Message:   &protocol.Message{Role: protocol.RoleAgent, Parts: []protocol.Part{protocol.TextPart(flushed)}},
			Final:     false,
			Timestamp: time.Now(),
		})
		rt.StreamBuffer = ""
	}

	if _, err := rt.SetState(state); err != nil {
		state = protocol.TaskStateFailed
	}

	if reason != "" {
		rt.Task.History = append(rt.Task.History, protocol.Message{
			Role:  protocol.RoleAgent,
			Parts: []protocol.Part{protocol.TextPart(reason)},
		})
	}

	if rt.IsRoot() && rt.PendingSummaryNotification != "" {
		rt.Task.History = append(rt.Task.History, protocol.Message{
			Role:  protocol.RoleSystem,
			Parts: []protocol.Part{protocol.TextPart("conversation summarized: " + rt.PendingSummaryNotification)},
		})
		rt.PendingSummaryNotification = ""
	}

	_ = d.Publisher.PublishResult(ctx, rt.Task)

	if d.Metrics != nil {
		d.Metrics.RecordTaskTerminal(string(state))
	}
}
