package taskcore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/solacelabs/agentmesh/pkg/broker"
	"github.com/solacelabs/agentmesh/pkg/protocol"
)

// Publisher emits A2A events onto the gateway topics bound to one task.
// Grounded on pkg/broker.Adapter.Publish, narrowed to the two event
// kinds the driver loop produces (spec §4.7.2 step 2c).
type Publisher struct {
	adapter     broker.Adapter
	statusTopic string
	resultTopic string
}

// NewPublisher binds a Publisher to the status/result topics a single
// task's events are routed to (built by the caller from pkg/topic,
// e.g. Builder.GatewayStatus/GatewayResponse).
func NewPublisher(adapter broker.Adapter, statusTopic, resultTopic string) *Publisher {
	return &Publisher{adapter: adapter, statusTopic: statusTopic, resultTopic: resultTopic}
}

// PublishStatus emits a non-terminal TaskStatusUpdateEvent.
func (p *Publisher) PublishStatus(ctx context.Context, event *protocol.TaskStatusUpdateEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("taskcore: marshal status event: %w", err)
	}
	return p.adapter.Publish(ctx, p.statusTopic, payload, nil)
}

// PublishArtifact emits a TaskArtifactUpdateEvent.
func (p *Publisher) PublishArtifact(ctx context.Context, event *protocol.TaskArtifactUpdateEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("taskcore: marshal artifact event: %w", err)
	}
	return p.adapter.Publish(ctx, p.statusTopic, payload, nil)
}

// PublishResult emits the terminal protocol.Task on the result topic
// (spec §4.7.1: terminal states carry the full Task, not a status event).
func (p *Publisher) PublishResult(ctx context.Context, task *protocol.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("taskcore: marshal result task: %w", err)
	}
	return p.adapter.Publish(ctx, p.resultTopic, payload, nil)
}
