package asynctask

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/solacelabs/agentmesh/pkg/apphost"
	"github.com/solacelabs/agentmesh/pkg/broker"
	"github.com/solacelabs/agentmesh/pkg/topic"
)

// Config configures one App instance.
type Config struct {
	Name string

	Namespace   string
	TaskTimeout time.Duration

	// SweepInterval is how often the timeout sweeper runs (spec §5
	// "timeout_sweeper (periodic)").
	SweepInterval time.Duration

	Store Store
	Log   *slog.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Name == "" {
		out.Name = "async-human-task"
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = 30 * time.Second
	}
	if out.Store == nil {
		out.Store = NewInMemoryStore()
	}
	if out.Log == nil {
		out.Log = slog.Default()
	}
	return out
}

// userResponseEnvelope is the wire shape a gateway publishes a human's
// form response in (spec §4.9 step 2 "user_response(task_id, form_data)").
type userResponseEnvelope struct {
	TaskID   string `json:"taskId"`
	FormData any    `json:"formData"`
}

// App is the Async Human-Task Service as an apphost.App: it subscribes
// every gateway's form-response traffic and runs a periodic timeout
// sweeper loop.
type App struct {
	cfg     Config
	builder *topic.Builder
	svc     *Service
	log     *slog.Logger

	br        broker.Adapter
	stopResp  chan struct{}
	doneResp  chan struct{}
	stopSweep chan struct{}
	doneSweep chan struct{}
}

// New constructs an App. Call Start to begin consuming.
func New(cfg Config) *App {
	resolved := cfg.withDefaults()
	builder := topic.NewBuilder(resolved.Namespace)
	return &App{
		cfg:     resolved,
		builder: builder,
		svc:     NewService(resolved.Store, nil, builder, resolved.TaskTimeout),
		log:     resolved.Log.With("component", "asynctask", "name", resolved.Name),
	}
}

// Service exposes the underlying state machine, e.g. for an orchestrator
// component to call CreateTaskGroup directly in-process.
func (a *App) Service() *Service { return a.svc }

func (a *App) Info() apphost.Info {
	return apphost.Info{Name: a.cfg.Name, Type: "asynctask", Enabled: true}
}

func (a *App) Start(ctx context.Context, br broker.Adapter) error {
	a.br = br
	a.svc.br = br

	sub, err := br.Subscribe(ctx, a.builder.AsyncServiceUserResponseSubscription(), a.cfg.Name+"-responses")
	if err != nil {
		return fmt.Errorf("asynctask: subscribe user responses: %w", err)
	}

	a.stopResp = make(chan struct{})
	a.doneResp = make(chan struct{})
	go a.runResponseLoop(sub)

	a.stopSweep = make(chan struct{})
	a.doneSweep = make(chan struct{})
	go a.runSweepLoop()

	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_ = a.br.Unsubscribe(a.builder.AsyncServiceUserResponseSubscription())
	close(a.stopResp)
	close(a.stopSweep)

	for _, done := range []chan struct{}{a.doneResp, a.doneSweep} {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (a *App) runResponseLoop(sub *broker.Subscription) {
	defer close(a.doneResp)
	for msg := range sub.Messages() {
		a.handleResponse(msg)
		select {
		case <-a.stopResp:
			return
		default:
		}
	}
}

func (a *App) handleResponse(msg *broker.Message) {
	var env userResponseEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		a.log.Warn("asynctask: malformed user response", "error", err)
		msg.Nack()
		return
	}
	if err := a.svc.UserResponse(context.Background(), env.TaskID, env.FormData); err != nil {
		a.log.Warn("asynctask: process user response failed", "task_id", env.TaskID, "error", err)
		msg.Nack()
		return
	}
	msg.Ack()
}

func (a *App) runSweepLoop() {
	defer close(a.doneSweep)
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := a.svc.Sweep(context.Background()); err != nil {
				a.log.Warn("asynctask: sweep failed", "error", err)
			}
		case <-a.stopSweep:
			return
		}
	}
}

func (a *App) HandleManagementRequest(ctx context.Context, req apphost.ManagementRequest) (*apphost.ManagementResponse, error) {
	switch req.Path {
	case "/health", "":
		return &apphost.ManagementResponse{StatusCode: 200, Body: []byte(fmt.Sprintf(`{"service":%q}`, a.cfg.Name))}, nil
	case "/pending-forms":
		return a.handlePendingForms(ctx, req)
	}
	return nil, fmt.Errorf("asynctask: unknown management path %q", req.Path)
}

// handlePendingForms is the Control Plane's supplemented `GET
// apps/{gateway}/pending-forms` custom path, delegating to the Service's
// GetPendingForms projection.
func (a *App) handlePendingForms(ctx context.Context, req apphost.ManagementRequest) (*apphost.ManagementResponse, error) {
	var params struct {
		Gateway  string `json:"gateway"`
		Identity string `json:"identity"`
	}
	if len(req.Body) > 0 {
		if err := json.Unmarshal(req.Body, &params); err != nil {
			return &apphost.ManagementResponse{StatusCode: 400, Body: []byte(`{"error":"invalid body"}`)}, nil
		}
	}
	forms, err := a.svc.GetPendingForms(ctx, params.Gateway, params.Identity)
	if err != nil {
		return nil, fmt.Errorf("asynctask: get pending forms: %w", err)
	}
	body, err := json.Marshal(forms)
	if err != nil {
		return nil, fmt.Errorf("asynctask: marshal pending forms: %w", err)
	}
	return &apphost.ManagementResponse{StatusCode: 200, Body: body}, nil
}
