package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/solacelabs/agentmesh/pkg/broker"
	"github.com/solacelabs/agentmesh/pkg/middleware"
)

func newTestTransport(t *testing.T) (*HTTPTransport, *Gateway) {
	t.Helper()
	reg := middleware.New()
	gw := New(Config{GatewayID: "gw1", Middleware: reg})
	gw.br = broker.NewMemoryBroker(0)
	return NewHTTPTransport(gw, nil), gw
}

func TestHTTPTransport_SubmitNonStreamingWaitsForResult(t *testing.T) {
	tr, _ := newTestTransport(t)

	// Simulate the bridge loop delivering the terminal task event that
	// would normally arrive asynchronously via the broker, so the
	// handler's waitForResult has something to unblock on.
	go func() {
		var taskID string
		for taskID == "" {
			tr.mu.Lock()
			for k := range tr.subs {
				if k != "" {
					taskID = k
				}
			}
			tr.mu.Unlock()
			time.Sleep(time.Millisecond)
		}
		tr.mu.Lock()
		ch := tr.subs[taskID]
		tr.mu.Unlock()
		ch <- &OutboundEvent{Kind: EventKindResult, Task: nil}
	}()

	body := `{"targetAgent":"agent1","streaming":false,"identity":{"id":"u1"},"message":{"role":"user","parts":[{"kind":"text","text":"hi"}]}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/message", strings.NewReader(body))
	w := httptest.NewRecorder()

	tr.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200, body=%s", w.Code, w.Body.String())
	}
}

func TestHTTPTransport_SubmitRejectsInvalidIdentity(t *testing.T) {
	tr, _ := newTestTransport(t)

	body := `{"targetAgent":"agent1","streaming":false,"identity":{"id":""},"message":{"role":"user","parts":[]}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/message", strings.NewReader(body))
	w := httptest.NewRecorder()

	tr.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d; want 403, body=%s", w.Code, w.Body.String())
	}
}

func TestHTTPTransport_Health(t *testing.T) {
	tr, _ := newTestTransport(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	tr.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", w.Code)
	}
	var out map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out["status"] != "ok" {
		t.Fatalf("body = %s; want status ok", w.Body.String())
	}
}

func TestHTTPTransport_Deliver_NoSubscriberErrors(t *testing.T) {
	tr, _ := newTestTransport(t)

	err := tr.Deliver(context.Background(), "no-such-task", nil, &OutboundEvent{Kind: EventKindResult})
	if err == nil {
		t.Fatalf("expected an error delivering to an unknown task id")
	}
}

func TestHTTPTransport_CORSPreflight(t *testing.T) {
	tr, _ := newTestTransport(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/message", nil)
	w := httptest.NewRecorder()
	tr.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}

// readSSEEvents reads n "event:"-delimited frames from r.
func readSSEEvents(t *testing.T, r *bufio.Reader, n int) []string {
	t.Helper()
	var frames []string
	var buf bytes.Buffer
	for len(frames) < n {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading SSE stream: %v", err)
		}
		if line == "\n" {
			frames = append(frames, buf.String())
			buf.Reset()
			continue
		}
		buf.WriteString(line)
	}
	return frames
}

func TestHTTPTransport_SubmitStreamingSendsSSEFramesUntilTerminal(t *testing.T) {
	tr, _ := newTestTransport(t)
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	go func() {
		var taskID string
		for taskID == "" {
			tr.mu.Lock()
			for k := range tr.subs {
				if k != "" {
					taskID = k
				}
			}
			tr.mu.Unlock()
			time.Sleep(time.Millisecond)
		}
		tr.mu.Lock()
		ch := tr.subs[taskID]
		tr.mu.Unlock()
		ch <- &OutboundEvent{Kind: EventKindStatus, Status: nil}
		ch <- &OutboundEvent{Kind: EventKindResult, Task: nil}
	}()

	body := `{"targetAgent":"agent1","streaming":true,"identity":{"id":"u1"},"message":{"role":"user","parts":[{"kind":"text","text":"hi"}]}}`
	resp, err := http.Post(srv.URL+"/v1/message", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("Content-Type = %q; want text/event-stream", resp.Header.Get("Content-Type"))
	}

	frames := readSSEEvents(t, bufio.NewReader(resp.Body), 2)
	if !strings.HasPrefix(frames[0], "event: status") {
		t.Fatalf("first frame = %q; want it to start with event: status", frames[0])
	}
	if !strings.HasPrefix(frames[1], "event: result") {
		t.Fatalf("second frame = %q; want it to start with event: result", frames[1])
	}
}
