package agentapp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/solacelabs/agentmesh/pkg/apphost"
	"github.com/solacelabs/agentmesh/pkg/broker"
	"github.com/solacelabs/agentmesh/pkg/protocol"
	"github.com/solacelabs/agentmesh/pkg/taskcore"
	"github.com/solacelabs/agentmesh/pkg/topic"
)

type scriptedLLM struct {
	events []taskcore.LLMEvent
	err    error
}

func (s *scriptedLLM) StreamTurn(ctx context.Context, messages []taskcore.LLMMessage, tools []taskcore.ToolSpec) (<-chan taskcore.LLMEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan taskcore.LLMEvent, len(s.events))
	for _, e := range s.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func nextMessage(sub *broker.Subscription) <-chan *broker.Message {
	ch := make(chan *broker.Message, 1)
	go func() {
		for m := range sub.Messages() {
			ch <- m
			return
		}
	}()
	return ch
}

func submitTask(t *testing.T, br *broker.Adapter, builder *topic.Builder, agentName, taskID, replyTo string) {
	t.Helper()
	envelope := protocol.NewRequest(taskID, protocol.MethodMessageSend, protocol.SendMessageParams{
		TaskID:  taskID,
		Message: protocol.Message{Role: protocol.RoleUser, Parts: []protocol.Part{protocol.TextPart("hello")}},
	})
	payload, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := (*br).Publish(context.Background(), builder.AgentRequest(agentName), payload, map[string]any{
		"userId":  "alice",
		"replyTo": replyTo,
	}); err != nil {
		t.Fatalf("publish request: %v", err)
	}
}

func TestApp_CompletesPlainTextTaskAndPublishesResult(t *testing.T) {
	br := broker.NewMemoryBroker(8)
	builder := topic.NewBuilder("ns")

	app := New("ns", Config{
		AgentName: "weather",
		LLM:       &scriptedLLM{events: []taskcore.LLMEvent{{Type: "text", Text: "it is sunny"}}},
	})
	if err := app.Start(context.Background(), br); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer app.Stop(context.Background())

	replyTo := builder.GatewayResponse("gw1", "t1")
	sub, err := br.Subscribe(context.Background(), replyTo, "test-q")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var adapter broker.Adapter = br
	submitTask(t, &adapter, builder, "weather", "t1", replyTo)

	select {
	case msg := <-nextMessage(sub):
		var task protocol.Task
		if err := json.Unmarshal(msg.Payload, &task); err != nil {
			t.Fatalf("unmarshal result task: %v", err)
		}
		if task.State != protocol.TaskStateCompleted {
			t.Fatalf("expected completed task, got %q", task.State)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for task result")
	}
}

func TestApp_PausesOnLongRunningToolAndLeavesTaskPending(t *testing.T) {
	br := broker.NewMemoryBroker(8)
	builder := topic.NewBuilder("ns")

	app := New("ns", Config{
		AgentName: "weather",
		LLM: &scriptedLLM{events: []taskcore.LLMEvent{
			{Type: "tool_call", ToolCall: &taskcore.ToolCall{ID: "call-1", Name: "slow_tool"}, LongRunningToolIDs: []string{"call-1"}},
		}},
	})
	if err := app.Start(context.Background(), br); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer app.Stop(context.Background())

	replyTo := builder.GatewayResponse("gw1", "t2")
	sub, err := br.Subscribe(context.Background(), replyTo, "test-q")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var adapter broker.Adapter = br
	submitTask(t, &adapter, builder, "weather", "t2", replyTo)

	select {
	case msg := <-nextMessage(sub):
		var status protocol.TaskStatusUpdateEvent
		if err := json.Unmarshal(msg.Payload, &status); err != nil {
			t.Fatalf("unmarshal status: %v", err)
		}
		if status.Final {
			t.Fatalf("expected a non-terminal status for a paused task, got final=true")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the tool_call status update")
	}

	app.mu.Lock()
	_, stillPending := app.tasks["t2"]
	app.mu.Unlock()
	if !stillPending {
		t.Fatal("expected task t2 to remain pending while its long-running tool is outstanding")
	}
}

func TestApp_HealthCheckReportsInFlightCount(t *testing.T) {
	app := New("ns", Config{AgentName: "weather", LLM: &scriptedLLM{}})
	resp, err := app.HandleManagementRequest(context.Background(), apphost.ManagementRequest{Path: "/health"})
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("HandleManagementRequest: resp=%+v err=%v", resp, err)
	}
	if got, want := string(resp.Body), `{"agent":"weather","in_flight_tasks":0}`; got != want {
		t.Fatalf("health body = %s, want %s", got, want)
	}
}

func TestOwnerFromSubTask(t *testing.T) {
	if got := ownerFromSubTask("t1.call-1"); got != "t1" {
		t.Fatalf("expected owner t1, got %q", got)
	}
	if got := ownerFromSubTask("t1"); got != "t1" {
		t.Fatalf("expected owner t1 for an id with no separator, got %q", got)
	}
}
