package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	appmw "github.com/solacelabs/agentmesh/pkg/middleware"
	"github.com/solacelabs/agentmesh/pkg/protocol"
)

// httpExternalContext is what HTTPTransport stores in the Task Context
// Manager per task (spec §4.8.3's external_ctx is transport-defined):
// whether the caller asked to stream. The subscriber channel itself is
// looked up in HTTPTransport.subs by task id.
type httpExternalContext struct {
	streaming bool
}

// HTTPTransport is the HTTP/SSE concrete Gateway Core transport (spec
// §4.8, dependency table row "go-chi/chi/v5 ... HTTP transport for the
// web/REST Gateway"). It implements ExternalSink by fanning delivered
// events out to one buffered channel per in-flight task id, grounded on
// the teacher's pkg/transport/jsonrpc_handler.go SSE idiom generalised
// from a direct gRPC-service call to a broker round-trip mediated by
// Gateway.SubmitTask.
type HTTPTransport struct {
	gw     *Gateway
	router chi.Router
	server *http.Server
	log    *slog.Logger

	mu   sync.Mutex
	subs map[string]chan *OutboundEvent
}

// submitBody is the wire shape of POST /v1/message.
type submitBody struct {
	TargetAgent string           `json:"targetAgent"`
	Streaming   bool             `json:"streaming"`
	Identity    identityBody     `json:"identity"`
	Message     protocol.Message `json:"message"`
	Validation  map[string]any   `json:"validationContext,omitempty"`
}

type identityBody struct {
	ID     string         `json:"id"`
	Claims map[string]any `json:"claims,omitempty"`
}

// NewHTTPTransport constructs a transport bound to gw. Call gw.Wire with
// this transport before Start so the bridge loop delivers through it,
// then Serve to accept connections.
func NewHTTPTransport(gw *Gateway, log *slog.Logger) *HTTPTransport {
	if log == nil {
		log = slog.Default()
	}
	t := &HTTPTransport{gw: gw, log: log.With("component", "gateway.http"), subs: make(map[string]chan *OutboundEvent)}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(corsMiddleware)
	r.Post("/v1/message", t.handleSubmit)
	r.Get("/healthz", t.handleHealth)
	t.router = r
	return t
}

// Handler exposes the router for tests and for embedding in a larger
// mux.
func (t *HTTPTransport) Handler() http.Handler { return t.router }

// Serve starts the HTTP listener (blocking), in the teacher's
// ListenAndServe-until-Shutdown idiom (pkg/transport/jsonrpc_handler.go
// Start/Stop).
func (t *HTTPTransport) Serve(addr string) error {
	t.server = &http.Server{Addr: addr, Handler: t.router}
	if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: http transport: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP listener.
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	if t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (t *HTTPTransport) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sub := t.subscribe("")
	req := SubmitRequest{
		TargetAgent:       body.TargetAgent,
		Parts:             body.Message.Parts,
		ExternalCtx:       httpExternalContext{streaming: body.Streaming},
		Identity:          appmw.UserIdentity{ID: body.Identity.ID, Claims: body.Identity.Claims},
		Streaming:         body.Streaming,
		ValidationContext: body.Validation,
	}

	taskID, err := t.gw.SubmitTask(r.Context(), req)
	if err != nil {
		t.unsubscribe("")
		writeJSONError(w, http.StatusForbidden, err.Error())
		return
	}
	t.retarget(sub, taskID)
	defer t.unsubscribe(taskID)

	if body.Streaming {
		t.streamSSE(w, r.Context(), sub)
		return
	}
	t.waitForResult(w, r.Context(), sub)
}

// subscribe registers a buffered channel under key (the empty string is
// a placeholder used only until the real task id is known, immediately
// retargeted by retarget).
func (t *HTTPTransport) subscribe(key string) chan *OutboundEvent {
	ch := make(chan *OutboundEvent, 64)
	t.mu.Lock()
	t.subs[key] = ch
	t.mu.Unlock()
	return ch
}

func (t *HTTPTransport) retarget(ch chan *OutboundEvent, taskID string) {
	t.mu.Lock()
	delete(t.subs, "")
	t.subs[taskID] = ch
	t.mu.Unlock()
}

func (t *HTTPTransport) unsubscribe(taskID string) {
	t.mu.Lock()
	delete(t.subs, taskID)
	t.mu.Unlock()
}

// Deliver implements ExternalSink.
func (t *HTTPTransport) Deliver(ctx context.Context, taskID string, externalCtx ExternalContext, event *OutboundEvent) error {
	t.mu.Lock()
	ch, ok := t.subs[taskID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("gateway: http transport: no subscriber for task %q", taskID)
	}
	select {
	case ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("gateway: http transport: delivery timed out for task %q", taskID)
	}
}

func (t *HTTPTransport) waitForResult(w http.ResponseWriter, ctx context.Context, sub chan *OutboundEvent) {
	w.Header().Set("Content-Type", "application/json")
	for {
		select {
		case evt := <-sub:
			switch evt.Kind {
			case EventKindResult:
				_ = json.NewEncoder(w).Encode(evt.Task)
				return
			case EventKindError:
				writeJSONError(w, http.StatusInternalServerError, evt.Error.Message)
				return
			default:
				continue
			}
		case <-ctx.Done():
			return
		}
	}
}

func (t *HTTPTransport) streamSSE(w http.ResponseWriter, ctx context.Context, sub chan *OutboundEvent) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	for {
		select {
		case evt := <-sub:
			var payload any
			switch evt.Kind {
			case EventKindStatus:
				payload = evt.Status
			case EventKindArtifact:
				payload = evt.Artifact
			case EventKindResult:
				payload = evt.Task
			case EventKindError:
				payload = evt.Error
			}
			data, err := json.Marshal(payload)
			if err != nil {
				t.log.Warn("gateway: http transport: marshal sse event failed", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data)
			flusher.Flush()
			if evt.Kind == EventKindResult || evt.Kind == EventKindError {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
