package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/solacelabs/agentmesh/pkg/apphost"
	"github.com/solacelabs/agentmesh/pkg/broker"
	"github.com/solacelabs/agentmesh/pkg/observability"
	"github.com/solacelabs/agentmesh/pkg/topic"
)

// AppConfig configures one sandbox App instance.
type AppConfig struct {
	Name    string
	Worker  string // identifies this worker in its request topic
	Engine  Config
	Log     *slog.Logger

	// Metrics is optional; a nil value records nothing (spec §4.14
	// "sandbox executions by exit reason").
	Metrics observability.Recorder
}

// exitReason classifies resp for the "sandbox executions by exit
// reason" counter (spec §4.14).
func exitReason(resp *InvocationResponse) string {
	switch {
	case resp.Success:
		return "success"
	case resp.TimedOut:
		return "timeout"
	case resp.ErrorCode != "":
		return string(resp.ErrorCode)
	default:
		return "unknown"
	}
}

// App is the Sandbox Engine as an apphost.App: it subscribes its own
// worker's invocation-request topic and runs each request through the
// Engine, publishing the response to replyTo and status updates to
// a2aStatusTopic (spec §4.10).
type App struct {
	cfg     AppConfig
	builder *topic.Builder
	engine  *Engine
	log     *slog.Logger

	br   broker.Adapter
	stop chan struct{}
	done chan struct{}
}

// NewApp constructs a sandbox App. namespace is the topic builder prefix.
func NewApp(namespace string, cfg AppConfig) *App {
	if cfg.Name == "" {
		cfg.Name = "sandbox-" + cfg.Worker
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &App{
		cfg:     cfg,
		builder: topic.NewBuilder(namespace),
		engine:  New(cfg.Engine),
		log:     cfg.Log.With("component", "sandbox", "worker", cfg.Worker),
	}
}

func (a *App) Info() apphost.Info {
	return apphost.Info{Name: a.cfg.Name, Type: "sandbox", Enabled: true}
}

func (a *App) Start(ctx context.Context, br broker.Adapter) error {
	a.br = br
	sub, err := br.Subscribe(ctx, a.builder.SandboxRequest(a.cfg.Worker), a.cfg.Name)
	if err != nil {
		return fmt.Errorf("sandbox: subscribe requests: %w", err)
	}
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	go a.run(sub)
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_ = a.br.Unsubscribe(a.builder.SandboxRequest(a.cfg.Worker))
	close(a.stop)
	select {
	case <-a.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (a *App) run(sub *broker.Subscription) {
	defer close(a.done)
	for msg := range sub.Messages() {
		a.handleInvocation(msg)
		select {
		case <-a.stop:
			return
		default:
		}
	}
}

func (a *App) handleInvocation(msg *broker.Message) {
	var req InvocationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		a.log.Warn("sandbox: malformed invocation request", "error", err)
		msg.Nack()
		return
	}

	replyTo, _ := msg.UserProperties["replyTo"].(string)
	statusTopic, _ := msg.UserProperties["a2aStatusTopic"].(string)

	onStatus := func(u StatusUpdate) {
		if statusTopic == "" {
			return
		}
		payload, err := json.Marshal(u)
		if err != nil {
			return
		}
		if err := a.br.Publish(context.Background(), statusTopic, payload, nil); err != nil {
			a.log.Warn("sandbox: publish status update failed", "error", err)
		}
	}

	resp := a.engine.Invoke(context.Background(), req, onStatus)
	if a.cfg.Metrics != nil {
		a.cfg.Metrics.RecordSandboxExecution(exitReason(resp))
	}

	if replyTo == "" {
		a.log.Info("sandbox: invocation has no replyTo, dropping response", "task_id", req.TaskID)
		msg.Ack()
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		a.log.Warn("sandbox: marshal response failed", "error", err)
		msg.Nack()
		return
	}
	if err := a.br.Publish(context.Background(), replyTo, payload, nil); err != nil {
		a.log.Warn("sandbox: publish response failed", "error", err)
		msg.Nack()
		return
	}
	msg.Ack()
}

func (a *App) HandleManagementRequest(_ context.Context, req apphost.ManagementRequest) (*apphost.ManagementResponse, error) {
	if req.Path == "/health" || req.Path == "" {
		return &apphost.ManagementResponse{StatusCode: 200, Body: []byte(fmt.Sprintf(`{"service":%q}`, a.cfg.Name))}, nil
	}
	return nil, fmt.Errorf("sandbox: unknown management path %q", req.Path)
}
