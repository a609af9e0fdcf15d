package gateway

import (
	"context"

	"github.com/solacelabs/agentmesh/pkg/protocol"
)

// EventKind discriminates the OutboundEvent union delivered to a
// gateway's ExternalSink.
type EventKind string

const (
	EventKindStatus   EventKind = "status"
	EventKindArtifact EventKind = "artifact"
	EventKindResult   EventKind = "result"
	EventKindError    EventKind = "error"
)

// OutboundEvent is one fully-processed item the bridge loop hands to
// the external transport after late-phase embed/URI resolution (spec
// §4.8.2 process_parsed_a2a_event). Exactly one payload field is set,
// matching Kind.
type OutboundEvent struct {
	Kind     EventKind
	Status   *protocol.TaskStatusUpdateEvent
	Artifact *protocol.TaskArtifactUpdateEvent
	Task     *protocol.Task
	Error    *protocol.RPCError
}

// ExternalSink is the boundary every concrete gateway transport
// (HTTP/SSE, gRPC, Slack) implements to receive processed task events
// addressed to one external_ctx (spec §4.8: "bridges [the external
// transport] to the mesh"). taskID identifies which in-flight
// submission the event belongs to; externalCtx is whatever
// submit_a2a_task stored for that task in the Task Context Manager.
type ExternalSink interface {
	Deliver(ctx context.Context, taskID string, externalCtx ExternalContext, event *OutboundEvent) error
}

// ExternalSinkFunc adapts a function to an ExternalSink.
type ExternalSinkFunc func(ctx context.Context, taskID string, externalCtx ExternalContext, event *OutboundEvent) error

func (f ExternalSinkFunc) Deliver(ctx context.Context, taskID string, externalCtx ExternalContext, event *OutboundEvent) error {
	return f(ctx, taskID, externalCtx, event)
}
