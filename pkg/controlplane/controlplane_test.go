package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/solacelabs/agentmesh/pkg/apphost"
	"github.com/solacelabs/agentmesh/pkg/broker"
	"github.com/solacelabs/agentmesh/pkg/middleware"
	"github.com/solacelabs/agentmesh/pkg/protocol"
	"github.com/solacelabs/agentmesh/pkg/topic"
)

// stubApp is a minimal apphost.App used to exercise Host/Service wiring
// without pulling in a concrete component.
type stubApp struct {
	name    string
	enabled bool
	started bool
}

func (a *stubApp) Info() apphost.Info {
	return apphost.Info{Name: a.name, Type: "stub", Enabled: a.enabled}
}
func (a *stubApp) Start(context.Context, broker.Adapter) error { a.started = true; return nil }
func (a *stubApp) Stop(context.Context) error                  { a.started = false; return nil }
func (a *stubApp) HandleManagementRequest(_ context.Context, req apphost.ManagementRequest) (*apphost.ManagementResponse, error) {
	if req.Path == "/widgets" {
		return &apphost.ManagementResponse{StatusCode: 200, Body: []byte(`{"widgets":3}`)}, nil
	}
	return nil, fmt.Errorf("stubApp: unknown path %q", req.Path)
}

func newTestService(t *testing.T, cfg Config) (*Service, *broker.MemoryBroker) {
	t.Helper()
	br := broker.NewMemoryBroker(0)
	svc := New("acme/dev/", cfg)
	if err := svc.Start(context.Background(), br); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { svc.Stop(context.Background()) })
	return svc, br
}

// call publishes a control-plane request and waits for the response
// envelope on a fresh replyTo topic.
func call(t *testing.T, br *broker.MemoryBroker, method, name string, rest []string, body any) *protocol.Envelope {
	t.Helper()
	builder := topic.NewBuilder("acme/dev/")
	topicStr := builder.ControlPlane(method, name, rest...)

	replyTo := "acme/dev/reply/" + method + "/" + name
	sub, err := br.Subscribe(context.Background(), replyTo, "test-q-"+replyTo)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer br.Unsubscribe(replyTo)

	rawBody, _ := json.Marshal(body)
	env := protocol.NewRequest("req-1", method, requestParams{Body: rawBody})
	payload, _ := json.Marshal(env)

	if err := br.Publish(context.Background(), topicStr, payload, map[string]any{"replyTo": replyTo}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-nextMessage(sub):
		var respEnv protocol.Envelope
		if err := json.Unmarshal(msg.Payload, &respEnv); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		return &respEnv
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for control-plane response")
		return nil
	}
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

func TestParseControlTopic(t *testing.T) {
	method, resource, name, rest, ok := parseControlTopic("acme/dev/", "acme/dev/sam/v1/control/get/apps/gw1/pending-forms")
	if !ok || method != "get" || resource != "apps" || name != "gw1" || len(rest) != 1 || rest[0] != "pending-forms" {
		t.Fatalf("unexpected parse: method=%q resource=%q name=%q rest=%v ok=%v", method, resource, name, rest, ok)
	}

	if _, _, _, _, ok := parseControlTopic("acme/dev/", "acme/dev/a2a/v1/agent/request/foo"); ok {
		t.Fatalf("expected non-control topic to fail parse")
	}
}

func newHostWithApp(t *testing.T, app apphost.App) *apphost.Host {
	t.Helper()
	br := broker.NewMemoryBroker(0)
	host := apphost.New(br, nil)
	if err := host.Register(app); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := host.Start(context.Background()); err != nil {
		t.Fatalf("Host.Start: %v", err)
	}
	t.Cleanup(func() { host.Stop(context.Background()) })
	return host
}

func TestService_CollectionGetListsApps(t *testing.T) {
	host := newHostWithApp(t, &stubApp{name: "gw1", enabled: true})
	_, br := newTestService(t, Config{Host: host})

	resp := call(t, br, "get", "", nil, nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var infos []apphost.Info
	if err := json.Unmarshal(raw, &infos); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "gw1" {
		t.Fatalf("unexpected infos: %+v", infos)
	}
}

func TestService_CollectionPostCreatesApp(t *testing.T) {
	host := newHostWithApp(t, &stubApp{name: "gw1", enabled: true})
	factories := map[string]AppFactory{
		"stub": func(name string, raw json.RawMessage) (apphost.App, error) {
			return &stubApp{name: name, enabled: true}, nil
		},
	}
	_, br := newTestService(t, Config{Host: host, Factories: factories})

	resp := call(t, br, "post", "", nil, AppSpec{Name: "gw2", Type: "stub"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if !host.IsAppRunning("gw2") {
		t.Fatalf("expected gw2 to be running after create")
	}

	// Duplicate create conflicts.
	resp = call(t, br, "post", "", nil, AppSpec{Name: "gw2", Type: "stub"})
	if resp.Error == nil || resp.Error.Code != protocol.CodeConflict {
		t.Fatalf("expected conflict error, got %+v", resp.Error)
	}
}

func TestService_CollectionPostUnknownTypeIsInvalidRequest(t *testing.T) {
	host := newHostWithApp(t, &stubApp{name: "gw1", enabled: true})
	_, br := newTestService(t, Config{Host: host})

	resp := call(t, br, "post", "", nil, AppSpec{Name: "gw2", Type: "unknown"})
	if resp.Error == nil || resp.Error.Code != protocol.CodeInvalidRequest {
		t.Fatalf("expected invalid request error, got %+v", resp.Error)
	}
}

func TestService_NamedAppGetIncludesRunningState(t *testing.T) {
	host := newHostWithApp(t, &stubApp{name: "gw1", enabled: true})
	_, br := newTestService(t, Config{Host: host})

	resp := call(t, br, "get", "gw1", nil, nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var view appView
	if err := json.Unmarshal(raw, &view); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if view.Name != "gw1" || !view.Running {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestService_NamedAppGetNotFound(t *testing.T) {
	host := newHostWithApp(t, &stubApp{name: "gw1", enabled: true})
	_, br := newTestService(t, Config{Host: host})

	resp := call(t, br, "get", "missing", nil, nil)
	if resp.Error == nil || resp.Error.Code != protocol.CodeNotFound {
		t.Fatalf("expected not found error, got %+v", resp.Error)
	}
}

func TestService_NamedAppPatchTogglesEnabled(t *testing.T) {
	host := newHostWithApp(t, &stubApp{name: "gw1", enabled: true})
	_, br := newTestService(t, Config{Host: host})

	resp := call(t, br, "patch", "gw1", nil, map[string]any{"enabled": false})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if host.IsAppRunning("gw1") {
		t.Fatalf("expected gw1 to be stopped after patch")
	}

	resp = call(t, br, "patch", "gw1", nil, map[string]any{"enabled": true})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if !host.IsAppRunning("gw1") {
		t.Fatalf("expected gw1 to be running after re-enable")
	}
}

func TestService_NamedAppPutRecreates(t *testing.T) {
	host := newHostWithApp(t, &stubApp{name: "gw1", enabled: true})
	factories := map[string]AppFactory{
		"stub": func(name string, raw json.RawMessage) (apphost.App, error) {
			return &stubApp{name: name, enabled: true}, nil
		},
	}
	_, br := newTestService(t, Config{Host: host, Factories: factories})

	resp := call(t, br, "put", "gw1", nil, AppSpec{Type: "stub"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if !host.IsAppRunning("gw1") {
		t.Fatalf("expected gw1 running after recreate")
	}
}

func TestService_NamedAppDelete(t *testing.T) {
	host := newHostWithApp(t, &stubApp{name: "gw1", enabled: true})
	_, br := newTestService(t, Config{Host: host})

	resp := call(t, br, "delete", "gw1", nil, nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if _, ok := host.App("gw1"); ok {
		t.Fatalf("expected gw1 to be removed")
	}
}

func TestService_CustomPathDelegatesToApp(t *testing.T) {
	host := newHostWithApp(t, &stubApp{name: "gw1", enabled: true})
	_, br := newTestService(t, Config{Host: host})

	resp := call(t, br, "get", "gw1", []string{"widgets"}, nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var out map[string]int
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if out["widgets"] != 3 {
		t.Fatalf("unexpected custom path result: %+v", out)
	}
}

func TestService_DenyAllRejectsEverything(t *testing.T) {
	host := newHostWithApp(t, &stubApp{name: "gw1", enabled: true})
	_, br := newTestService(t, Config{Host: host, DenyAll: true})

	resp := call(t, br, "get", "", nil, nil)
	if resp.Error == nil || resp.Error.Code != protocol.CodeAuthDenied {
		t.Fatalf("expected auth denied error, got %+v", resp.Error)
	}
}

func TestService_AccessValidatorCanDenyNamedApp(t *testing.T) {
	host := newHostWithApp(t, &stubApp{name: "gw1", enabled: true})
	registry := middleware.New()
	registry.BindAccessValidator(middleware.AccessValidatorFunc(
		func(_ context.Context, targetApp string, _ map[string]any, _ map[string]any) error {
			if targetApp == "gw1" {
				return fmt.Errorf("not allowed")
			}
			return nil
		}))
	_, br := newTestService(t, Config{Host: host, Registry: registry})

	resp := call(t, br, "get", "gw1", nil, nil)
	if resp.Error == nil || resp.Error.Code != protocol.CodeAuthDenied {
		t.Fatalf("expected auth denied error, got %+v", resp.Error)
	}

	// A different collection-level call (no target app) is unaffected.
	resp = call(t, br, "get", "", nil, nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error on collection call: %+v", resp.Error)
	}
}

func TestService_NoReplyToDropsWithoutResponse(t *testing.T) {
	host := newHostWithApp(t, &stubApp{name: "gw1", enabled: true})
	svc, br := newTestService(t, Config{Host: host})

	builder := topic.NewBuilder("acme/dev/")
	env := protocol.NewRequest("req-2", "get", requestParams{})
	payload, _ := json.Marshal(env)
	if err := br.Publish(context.Background(), builder.ControlPlane("get", ""), payload, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	_ = svc
}

func TestService_HealthCheck(t *testing.T) {
	host := newHostWithApp(t, &stubApp{name: "gw1", enabled: true})
	svc, _ := newTestService(t, Config{Host: host})

	resp, err := svc.HandleManagementRequest(context.Background(), apphost.ManagementRequest{Path: "/health"})
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("HandleManagementRequest: resp=%+v err=%v", resp, err)
	}
}
