package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/solacelabs/agentmesh/pkg/broker"
	"github.com/solacelabs/agentmesh/pkg/middleware"
	"github.com/solacelabs/agentmesh/pkg/protocol"
)

func newTestGateway(t *testing.T, cfg Config) (*Gateway, *broker.MemoryBroker) {
	t.Helper()
	br := broker.NewMemoryBroker(0)
	gw := New(cfg)
	gw.br = br
	return gw, br
}

func TestSubmitTask_RejectsInvalidIdentity(t *testing.T) {
	gw, _ := newTestGateway(t, Config{GatewayID: "gw1"})

	_, err := gw.SubmitTask(context.Background(), SubmitRequest{
		TargetAgent: "agent1",
		Identity:    middleware.UserIdentity{},
	})
	if err == nil {
		t.Fatalf("expected an error for an id-less identity")
	}
}

func TestSubmitTask_RejectsWhenAccessDenied(t *testing.T) {
	reg := middleware.New()
	reg.BindAccessValidator(middleware.AccessValidatorFunc(func(context.Context, string, map[string]any, map[string]any) error {
		return context_deniedErr
	}))
	gw, _ := newTestGateway(t, Config{GatewayID: "gw1", Middleware: reg})

	_, err := gw.SubmitTask(context.Background(), SubmitRequest{
		TargetAgent: "agent1",
		Identity:    middleware.UserIdentity{ID: "u1"},
	})
	if err == nil {
		t.Fatalf("expected an error when AccessValidator denies")
	}
}

var context_deniedErr = errDenied{}

type errDenied struct{}

func (errDenied) Error() string { return "denied" }

func TestSubmitTask_StoresExternalContextAndPublishes(t *testing.T) {
	gw, br := newTestGateway(t, Config{GatewayID: "gw1", Namespace: "acme/dev/"})

	sub, err := br.Subscribe(context.Background(), gw.builder.AgentRequest("agent1"), "test-q")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	taskID, err := gw.SubmitTask(context.Background(), SubmitRequest{
		TargetAgent: "agent1",
		Parts:       []protocol.Part{protocol.TextPart("hello")},
		ExternalCtx: "my-external-ctx",
		Identity:    middleware.UserIdentity{ID: "u1"},
	})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if taskID == "" {
		t.Fatalf("expected a non-empty task id")
	}

	stored, ok := gw.ctxMgr.Get(taskID)
	if !ok || stored != "my-external-ctx" {
		t.Fatalf("Get(%q) = %v, %v; want my-external-ctx, true", taskID, stored, ok)
	}

	var msg *broker.Message
	for m := range sub.Messages() {
		msg = m
		break
	}
	if msg == nil {
		t.Fatalf("expected a published message on the agent request topic")
	}

	var env protocol.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		t.Fatalf("unmarshal published envelope: %v", err)
	}
	if env.Method != protocol.MethodMessageSend {
		t.Fatalf("Method = %q; want %q", env.Method, protocol.MethodMessageSend)
	}
	if msg.UserProperties["userId"] != "u1" {
		t.Fatalf("userId user property = %v; want u1", msg.UserProperties["userId"])
	}
	if _, hasStatusTopic := msg.UserProperties["a2aStatusTopic"]; hasStatusTopic {
		t.Fatalf("non-streaming submit should not set a2aStatusTopic")
	}
}

func TestSubmitTask_StreamingSetsStatusTopic(t *testing.T) {
	gw, br := newTestGateway(t, Config{GatewayID: "gw1"})
	sub, err := br.Subscribe(context.Background(), gw.builder.AgentRequest("agent1"), "test-q")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	_, err = gw.SubmitTask(context.Background(), SubmitRequest{
		TargetAgent: "agent1",
		Identity:    middleware.UserIdentity{ID: "u1"},
		Streaming:   true,
	})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	var msg *broker.Message
	for m := range sub.Messages() {
		msg = m
		break
	}
	if msg == nil {
		t.Fatalf("expected a published message")
	}
	if _, ok := msg.UserProperties["a2aStatusTopic"]; !ok {
		t.Fatalf("streaming submit should set a2aStatusTopic")
	}
}
