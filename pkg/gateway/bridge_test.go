package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/solacelabs/agentmesh/pkg/artifact"
	"github.com/solacelabs/agentmesh/pkg/broker"
	"github.com/solacelabs/agentmesh/pkg/embed"
	"github.com/solacelabs/agentmesh/pkg/protocol"
)

// collectingSink records every delivered event, keyed by task id, for
// assertions.
type collectingSink struct {
	events []*OutboundEvent
}

func (s *collectingSink) Deliver(_ context.Context, _ string, _ ExternalContext, event *OutboundEvent) error {
	s.events = append(s.events, event)
	return nil
}

// fakeArtifactStore is an in-memory artifact.Store stub for exercising
// artifact:// URI resolution without the full store package.
type fakeArtifactStore struct {
	blobs map[string]artifact.Blob
}

func (s *fakeArtifactStore) key(scope, userID, sessionID, filename string) string {
	return scope + "/" + userID + "/" + sessionID + "/" + filename
}

func (s *fakeArtifactStore) Put(_ context.Context, scope, userID, sessionID, filename string, blob artifact.Blob) (int64, error) {
	if s.blobs == nil {
		s.blobs = make(map[string]artifact.Blob)
	}
	s.blobs[s.key(scope, userID, sessionID, filename)] = blob
	return 0, nil
}

func (s *fakeArtifactStore) Get(_ context.Context, scope, userID, sessionID, filename string, _ int64) (artifact.Blob, bool, error) {
	b, ok := s.blobs[s.key(scope, userID, sessionID, filename)]
	return b, ok, nil
}

func (s *fakeArtifactStore) ListKeys(context.Context, string, string, string) []string { return nil }
func (s *fakeArtifactStore) ListVersions(context.Context, string, string, string, string) []int64 {
	return nil
}
func (s *fakeArtifactStore) Delete(context.Context, string, string, string, string) error { return nil }

var _ artifact.Store = (*fakeArtifactStore)(nil)

func TestParseEventPayload_DiscriminatesByKeyPresence(t *testing.T) {
	errPayload, _ := json.Marshal(map[string]any{"error": map[string]any{"code": 1, "message": "boom"}})
	parsed, err := parseEventPayload(errPayload)
	if err != nil || parsed.errorVal == nil || parsed.errorVal.Message != "boom" {
		t.Fatalf("error payload: parsed=%+v err=%v", parsed, err)
	}

	artifactPayload, _ := json.Marshal(protocol.TaskArtifactUpdateEvent{TaskID: "t1", Artifact: protocol.Artifact{Name: "a"}})
	parsed, err = parseEventPayload(artifactPayload)
	if err != nil || parsed.artifact == nil || parsed.taskID != "t1" {
		t.Fatalf("artifact payload: parsed=%+v err=%v", parsed, err)
	}

	statusPayload, _ := json.Marshal(protocol.TaskStatusUpdateEvent{TaskID: "t1", Final: false})
	parsed, err = parseEventPayload(statusPayload)
	if err != nil || parsed.status == nil || parsed.taskID != "t1" {
		t.Fatalf("status payload: parsed=%+v err=%v", parsed, err)
	}

	taskPayload, _ := json.Marshal(protocol.Task{TaskID: "t1", State: protocol.TaskStateCompleted})
	parsed, err = parseEventPayload(taskPayload)
	if err != nil || parsed.task == nil || parsed.taskID != "t1" {
		t.Fatalf("task payload: parsed=%+v err=%v", parsed, err)
	}
}

func newBridgeTestGateway(sink *collectingSink, store artifact.Store, resolver *embed.Resolver) *Gateway {
	gw := New(Config{
		GatewayID:           "gw1",
		Sink:                sink,
		ArtifactStore:       store,
		ResolveArtifactURIs: store != nil,
		EmbedResolver:       resolver,
	})
	gw.br = broker.NewMemoryBroker(0)
	return gw
}

func TestProcessParsedEvent_ErrorRemovesContext(t *testing.T) {
	sink := &collectingSink{}
	gw := newBridgeTestGateway(sink, nil, nil)
	gw.ctxMgr.Store("t1", "ext")

	err := gw.processParsedEvent(context.Background(), "t1", "ext", &parsedEvent{errorVal: &protocol.RPCError{Code: 1, Message: "boom"}})
	if err != nil {
		t.Fatalf("processParsedEvent: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != EventKindError {
		t.Fatalf("expected one error event, got %+v", sink.events)
	}
	if _, ok := gw.ctxMgr.Get("t1"); ok {
		t.Fatalf("expected context removed after error")
	}
}

func TestProcessStatusUpdate_DropsEmptyIntermediateUpdate(t *testing.T) {
	sink := &collectingSink{}
	gw := newBridgeTestGateway(sink, nil, nil)

	evt := &protocol.TaskStatusUpdateEvent{
		TaskID:  "t1",
		State:   protocol.TaskStateWorking,
		Message: &protocol.Message{Role: protocol.RoleAgent, Parts: []protocol.Part{protocol.TextPart("  ")}},
		Final:   false,
	}
	if err := gw.processStatusUpdate(context.Background(), "t1", nil, evt, false); err != nil {
		t.Fatalf("processStatusUpdate: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected empty intermediate update to be dropped, got %+v", sink.events)
	}
}

func TestProcessStatusUpdate_DeliversNonEmptyUpdate(t *testing.T) {
	sink := &collectingSink{}
	gw := newBridgeTestGateway(sink, nil, nil)

	evt := &protocol.TaskStatusUpdateEvent{
		TaskID:  "t1",
		State:   protocol.TaskStateWorking,
		Message: &protocol.Message{Role: protocol.RoleAgent, Parts: []protocol.Part{protocol.TextPart("hello")}},
		Final:   false,
	}
	if err := gw.processStatusUpdate(context.Background(), "t1", nil, evt, false); err != nil {
		t.Fatalf("processStatusUpdate: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != EventKindStatus {
		t.Fatalf("expected one status event, got %+v", sink.events)
	}

	// The raw text should also have been buffered for the eventual flush.
	if got := gw.ctxMgr.FlushStreamBuffer("t1"); got != "hello" {
		t.Fatalf("stream buffer = %q; want %q", got, "hello")
	}
}

func TestProcessStatusUpdate_SignalBecomesSeparateEvent(t *testing.T) {
	resolver := embed.NewResolver(4)
	resolver.Register("sig", embed.PhaseLate, func(_ context.Context, expr string, _ *embed.Context) (string, *embed.Signal, error) {
		return "", &embed.Signal{Kind: "SIGNAL_STATUS_UPDATE", Data: "tool running: " + expr}, nil
	})
	sink := &collectingSink{}
	gw := newBridgeTestGateway(sink, nil, resolver)

	evt := &protocol.TaskStatusUpdateEvent{
		TaskID:  "t1",
		State:   protocol.TaskStateWorking,
		Message: &protocol.Message{Role: protocol.RoleAgent, Parts: []protocol.Part{protocol.TextPart("«sig:search»")}},
		Final:   false,
	}
	if err := gw.processStatusUpdate(context.Background(), "t1", nil, evt, false); err != nil {
		t.Fatalf("processStatusUpdate: %v", err)
	}

	if len(sink.events) != 2 {
		t.Fatalf("expected two delivered events (the signal, then the modified status), got %+v", sink.events)
	}
	if sink.events[0].Kind != EventKindStatus || sink.events[0].Status.Metadata["source"] != "gateway_signal" {
		t.Fatalf("expected a gateway_signal status event, got %+v", sink.events[0])
	}
	if sink.events[1].Kind != EventKindStatus || sink.events[1].Status != evt {
		t.Fatalf("expected the modified status update second, got %+v", sink.events[1])
	}
}

func TestProcessStatusUpdate_SuppressesSignalsWhenFinalizing(t *testing.T) {
	resolver := embed.NewResolver(4)
	resolver.Register("sig", embed.PhaseLate, func(_ context.Context, expr string, _ *embed.Context) (string, *embed.Signal, error) {
		return "", &embed.Signal{Kind: "SIGNAL_STATUS_UPDATE", Data: "should be suppressed"}, nil
	})
	sink := &collectingSink{}
	gw := newBridgeTestGateway(sink, nil, resolver)

	evt := &protocol.TaskStatusUpdateEvent{
		TaskID:  "t1",
		Message: &protocol.Message{Role: protocol.RoleAgent, Parts: []protocol.Part{protocol.TextPart("«sig:x»")}},
	}
	if err := gw.processStatusUpdate(context.Background(), "t1", nil, evt, true); err != nil {
		t.Fatalf("processStatusUpdate: %v", err)
	}
	for _, e := range sink.events {
		if e.Kind == EventKindStatus && e.Status.Metadata["source"] == "gateway_signal" {
			t.Fatalf("signal event should be suppressed while finalizing, got %+v", e)
		}
	}
}

func TestProcessTerminalTask_FlushesStreamBufferThenDeliversResult(t *testing.T) {
	sink := &collectingSink{}
	gw := newBridgeTestGateway(sink, nil, nil)
	gw.ctxMgr.Store("t1", "ext")
	gw.ctxMgr.AppendStreamBuffer("t1", "partial streamed text")

	task := &protocol.Task{TaskID: "t1", State: protocol.TaskStateCompleted}
	if err := gw.processTerminalTask(context.Background(), "t1", "ext", task); err != nil {
		t.Fatalf("processTerminalTask: %v", err)
	}

	if len(sink.events) != 2 {
		t.Fatalf("expected a flush status event then a result event, got %+v", sink.events)
	}
	if sink.events[0].Kind != EventKindStatus || sink.events[0].Status.Message.Parts[0].Text != "partial streamed text" {
		t.Fatalf("first event should be the flushed buffer, got %+v", sink.events[0])
	}
	if sink.events[1].Kind != EventKindResult || sink.events[1].Task.TaskID != "t1" {
		t.Fatalf("second event should be the terminal result, got %+v", sink.events[1])
	}
	if _, ok := gw.ctxMgr.Get("t1"); ok {
		t.Fatalf("expected context removed after terminal task")
	}
}

func TestProcessTerminalTask_NoFlushWhenBufferEmpty(t *testing.T) {
	sink := &collectingSink{}
	gw := newBridgeTestGateway(sink, nil, nil)
	gw.ctxMgr.Store("t1", "ext")

	task := &protocol.Task{TaskID: "t1", State: protocol.TaskStateCompleted}
	if err := gw.processTerminalTask(context.Background(), "t1", "ext", task); err != nil {
		t.Fatalf("processTerminalTask: %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != EventKindResult {
		t.Fatalf("expected exactly the result event when nothing was buffered, got %+v", sink.events)
	}
}

func TestResolveArtifactURIsInPlace_ReplacesFileWithURI(t *testing.T) {
	store := &fakeArtifactStore{}
	_, _ = store.Put(context.Background(), "app", "u1", "s1", "report.txt", artifact.Blob{
		Data: []byte("report contents"), MimeType: "text/plain", Size: 16, CreatedAt: time.Now(),
	})
	gw := newBridgeTestGateway(&collectingSink{}, store, nil)

	uri := artifact.URI("app", "u1", "s1", "report.txt", -1)
	parts := []protocol.Part{{Kind: protocol.PartKindFile, File: &protocol.FilePart{Name: "report.txt", URI: uri}}}

	changed := gw.resolveArtifactURIsInPlace(context.Background(), parts)
	if !changed {
		t.Fatalf("expected resolveArtifactURIsInPlace to report a change")
	}
	if parts[0].File.HasURI() {
		t.Fatalf("expected the URI file part to be replaced with inline bytes")
	}
	if string(parts[0].File.Bytes) != "report contents" {
		t.Fatalf("Bytes = %q; want %q", parts[0].File.Bytes, "report contents")
	}
}

func TestHandleDiscoveryItem_UpsertsAgentRegistry(t *testing.T) {
	gw := newBridgeTestGateway(&collectingSink{}, nil, nil)
	prefix := gw.builder.Namespace + "a2a/v1/discovery/agentcards/"
	cardPayload, _ := json.Marshal(map[string]any{"name": "agent1", "capabilities": []string{"search"}})

	gw.handleDiscoveryItem(queueItem{
		topic:   prefix + "agent1",
		payload: cardPayload,
		msg:     &broker.Message{},
	}, prefix)

	if _, ok := gw.agents.Get("agent1"); !ok {
		t.Fatalf("expected agent1 to be registered in the discovery registry")
	}
}
