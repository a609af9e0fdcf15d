// Package agentapp implements the Agent App (spec §4.7, §4.3): the
// apphost.App that owns one named agent's inbound request topic and
// drives each submitted task through a taskcore.Driver to completion,
// correlating peer-delegation responses back into paused tasks.
//
// Grounded on pkg/sandbox.App's subscribe-one-topic/run-loop/publish
// shape, generalised from one-shot invocation/response to
// taskcore.Driver's multi-entry pause/resume lifecycle, and on
// pkg/gateway's TaskContextManager/bridge-loop per-task bookkeeping
// idiom (parsing a gateway-owned topic's JSON payload by sniffing its
// shape).
package agentapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/solacelabs/agentmesh/pkg/apphost"
	"github.com/solacelabs/agentmesh/pkg/broker"
	"github.com/solacelabs/agentmesh/pkg/embed"
	"github.com/solacelabs/agentmesh/pkg/observability"
	"github.com/solacelabs/agentmesh/pkg/protocol"
	"github.com/solacelabs/agentmesh/pkg/session"
	"github.com/solacelabs/agentmesh/pkg/taskcore"
	"github.com/solacelabs/agentmesh/pkg/topic"
)

// Config configures one agent's App instance.
type Config struct {
	AgentName string
	Namespace string

	LLM     taskcore.LLMClient
	Tools   []taskcore.ToolSpec
	Session session.Service

	Driver        taskcore.Config
	Compactor     *taskcore.Compactor
	EmbedResolver *embed.Resolver

	// Metrics is optional; a nil value records nothing (spec §4.14).
	Metrics observability.Recorder

	Log *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Session == nil {
		c.Session = session.InMemoryService()
	}
	if c.Driver == (taskcore.Config{}) {
		c.Driver = taskcore.DefaultConfig()
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return c
}

// pending is the per-task bookkeeping the driver loop itself doesn't
// persist across re-entries: the conversation history fed to the next
// LLM turn and the publisher bound to this task's reply topics (spec
// §4.7.2, §4.7.4).
type pending struct {
	rt      *taskcore.RunningTask
	getReq  *session.GetRequest
	sess    session.Session
	history []taskcore.LLMMessage
	pub     *taskcore.Publisher
}

// App is the Agent App: one apphost.App per named agent, owning its
// request topic and peer-response subscription.
type App struct {
	cfg     Config
	builder *topic.Builder
	peers   *taskcore.PeerDelegator
	log     *slog.Logger

	br broker.Adapter

	mu    sync.Mutex
	tasks map[string]*pending

	requestStop chan struct{}
	requestDone chan struct{}
	peerStop    chan struct{}
	peerDone    chan struct{}
}

// New constructs an Agent App. namespace is the topic builder prefix.
func New(namespace string, cfg Config) *App {
	cfg = cfg.withDefaults()
	return &App{
		cfg:     cfg,
		builder: topic.NewBuilder(namespace),
		log:     cfg.Log.With("component", "agentapp", "agent", cfg.AgentName),
		tasks:   make(map[string]*pending),
	}
}

func (a *App) Info() apphost.Info {
	return apphost.Info{Name: a.cfg.AgentName, Type: "agent", Enabled: true}
}

// Start subscribes the agent's request topic and its own peer-response
// sink, then spawns one run loop for each (spec §4.3 step "start").
func (a *App) Start(ctx context.Context, br broker.Adapter) error {
	a.br = br
	a.peers = taskcore.NewPeerDelegator(br, a.builder, a.cfg.AgentName)
	a.peers.Metrics = a.cfg.Metrics

	reqSub, err := br.Subscribe(ctx, a.builder.AgentRequest(a.cfg.AgentName), "agent-"+a.cfg.AgentName+"-request")
	if err != nil {
		return fmt.Errorf("agentapp: subscribe request: %w", err)
	}
	peerSub, err := br.Subscribe(ctx, a.builder.AgentPeerResponseSubscription(a.cfg.AgentName), "agent-"+a.cfg.AgentName+"-peer")
	if err != nil {
		_ = br.Unsubscribe(a.builder.AgentRequest(a.cfg.AgentName))
		return fmt.Errorf("agentapp: subscribe peer responses: %w", err)
	}

	a.requestStop = make(chan struct{})
	a.requestDone = make(chan struct{})
	a.peerStop = make(chan struct{})
	a.peerDone = make(chan struct{})

	go a.runRequests(reqSub)
	go a.runPeerResponses(peerSub)
	return nil
}

// Stop unsubscribes both patterns and joins both loops (spec §4.3 step
// "stop").
func (a *App) Stop(ctx context.Context) error {
	_ = a.br.Unsubscribe(a.builder.AgentRequest(a.cfg.AgentName))
	_ = a.br.Unsubscribe(a.builder.AgentPeerResponseSubscription(a.cfg.AgentName))
	close(a.requestStop)
	close(a.peerStop)
	for _, done := range []chan struct{}{a.requestDone, a.peerDone} {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (a *App) runRequests(sub *broker.Subscription) {
	defer close(a.requestDone)
	for msg := range sub.Messages() {
		a.handleRequest(msg)
		select {
		case <-a.requestStop:
			return
		default:
		}
	}
}

func (a *App) runPeerResponses(sub *broker.Subscription) {
	defer close(a.peerDone)
	prefix := a.builder.AgentPeerResponse(a.cfg.AgentName, "")
	for msg := range sub.Messages() {
		a.handlePeerResponse(msg, prefix)
		select {
		case <-a.peerStop:
			return
		default:
		}
	}
}

// handleRequest parses one inbound message/send (or tasks/cancel)
// envelope, seeds a fresh RunningTask and session, and drives it
// through the Driver (spec §4.7.1, §4.7.2 step 1).
func (a *App) handleRequest(msg *broker.Message) {
	var envelope protocol.Envelope
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		a.log.Warn("agentapp: malformed request envelope", "error", err)
		msg.Nack()
		return
	}

	if envelope.Method == protocol.MethodTasksCancel {
		a.handleCancel(envelope)
		msg.Ack()
		return
	}

	paramsRaw, err := json.Marshal(envelope.Params)
	if err != nil {
		msg.Nack()
		return
	}
	var params protocol.SendMessageParams
	if err := json.Unmarshal(paramsRaw, &params); err != nil {
		a.log.Warn("agentapp: malformed send params", "error", err)
		msg.Nack()
		return
	}

	userID, _ := msg.UserProperties["userId"].(string)
	replyTo, _ := msg.UserProperties["replyTo"].(string)
	statusTopic, _ := msg.UserProperties["a2aStatusTopic"].(string)
	userConfig, _ := msg.UserProperties["a2aUserConfig"].(map[string]any)
	if statusTopic == "" {
		statusTopic = replyTo
	}
	if replyTo == "" {
		a.log.Info("agentapp: request has no replyTo, dropping", "task_id", params.TaskID)
		msg.Ack()
		return
	}

	task := &protocol.Task{
		TaskID:    params.TaskID,
		ContextID: params.TaskID,
		State:     protocol.TaskStateWorking,
		History:   []protocol.Message{params.Message},
	}
	rt := taskcore.NewRunningTask(task)
	rt.ExternalRequestContext = userConfig

	ctx := context.Background()
	getReq := &session.GetRequest{AppName: a.cfg.AgentName, UserID: userID, SessionID: params.TaskID}
	if _, err := a.cfg.Session.Create(ctx, &session.CreateRequest{AppName: a.cfg.AgentName, UserID: userID, SessionID: params.TaskID}); err != nil {
		a.log.Warn("agentapp: create session failed", "task_id", params.TaskID, "error", err)
		msg.Nack()
		return
	}
	getResp, err := a.cfg.Session.Get(ctx, getReq)
	if err != nil {
		a.log.Warn("agentapp: get session failed", "task_id", params.TaskID, "error", err)
		msg.Nack()
		return
	}

	p := &pending{
		rt:      rt,
		getReq:  getReq,
		sess:    getResp.Session,
		history: []taskcore.LLMMessage{{Role: "user", Parts: partsToAny(params.Message.Parts)}},
		pub:     taskcore.NewPublisher(a.br, statusTopic, replyTo),
	}

	a.mu.Lock()
	a.tasks[params.TaskID] = p
	a.mu.Unlock()

	a.runDriver(p)
	msg.Ack()
}

// handleCancel marks the named task canceled; the driver loop observes
// this on its next LLM event (spec §4.7.2 step 2d). A task paused on a
// long-running tool only sees the cancellation once it resumes.
func (a *App) handleCancel(envelope protocol.Envelope) {
	paramsRaw, err := json.Marshal(envelope.Params)
	if err != nil {
		return
	}
	var params protocol.CancelTaskParams
	if err := json.Unmarshal(paramsRaw, &params); err != nil {
		return
	}

	a.mu.Lock()
	p, ok := a.tasks[params.TaskID]
	a.mu.Unlock()
	if !ok {
		return
	}
	p.rt.Cancel()
}

// handlePeerResponse correlates one peer reply by sub_task_id and
// resumes the owning task's driver loop once every sub-task sharing its
// invocation id has returned (spec §4.7.4).
func (a *App) handlePeerResponse(msg *broker.Message, prefix string) {
	subTaskID, ok := topic.ExtractTrailingID(msg.Topic, prefix)
	if !ok {
		msg.Ack()
		return
	}

	result, terminal, err := parsePeerPayload(msg.Payload)
	if err != nil {
		a.log.Warn("agentapp: malformed peer response", "sub_task_id", subTaskID, "error", err)
		msg.Nack()
		return
	}
	if !terminal {
		msg.Ack()
		return
	}

	ownerTaskID := ownerFromSubTask(subTaskID)
	a.mu.Lock()
	p, ok := a.tasks[ownerTaskID]
	a.mu.Unlock()
	if !ok {
		a.log.Warn("agentapp: peer response for unknown task", "task_id", ownerTaskID, "sub_task_id", subTaskID)
		msg.Ack()
		return
	}

	parts, _, ready := a.peers.OnPeerResponse(p.rt, subTaskID, result)
	if !ready {
		msg.Ack()
		return
	}

	p.history = append(p.history, taskcore.LLMMessage{Role: "tool", Parts: partsToAny(parts)})
	a.runDriver(p)
	msg.Ack()
}

// runDriver runs p through one driver-loop entry, dropping its
// bookkeeping once the task reaches a terminal state (not paused).
func (a *App) runDriver(p *pending) {
	d := &taskcore.Driver{
		LLM:           a.cfg.LLM,
		Tools:         a.cfg.Tools,
		Session:       a.cfg.Session,
		Publisher:     p.pub,
		Peers:         a.peers,
		Compactor:     a.cfg.Compactor,
		EmbedResolver: a.cfg.EmbedResolver,
		Config:        a.cfg.Driver,
		Metrics:       a.cfg.Metrics,
	}

	paused, err := d.Run(context.Background(), p.rt, p.getReq, p.sess, p.history)
	if err != nil {
		a.log.Warn("agentapp: driver run failed", "task_id", p.rt.Task.TaskID, "error", err)
	}
	if !paused {
		a.mu.Lock()
		delete(a.tasks, p.rt.Task.TaskID)
		a.mu.Unlock()
	}
}

func (a *App) HandleManagementRequest(_ context.Context, req apphost.ManagementRequest) (*apphost.ManagementResponse, error) {
	if req.Path == "/health" || req.Path == "" {
		a.mu.Lock()
		n := len(a.tasks)
		a.mu.Unlock()
		return &apphost.ManagementResponse{StatusCode: 200, Body: []byte(fmt.Sprintf(`{"agent":%q,"in_flight_tasks":%d}`, a.cfg.AgentName, n))}, nil
	}
	return nil, fmt.Errorf("agentapp: unknown management path %q", req.Path)
}

// ownerFromSubTask extracts the owning task id from a sub_task_id of
// the form "{taskID}.{adkFunctionCallID}" (spec §4.7.4, grounded on
// taskcore.PeerDelegator.Delegate's id construction).
func ownerFromSubTask(subTaskID string) string {
	if i := strings.Index(subTaskID, "."); i >= 0 {
		return subTaskID[:i]
	}
	return subTaskID
}

// parsePeerPayload sniffs a peer-response payload's JSON shape,
// mirroring pkg/gateway's parseEventPayload: a "final" key marks a
// non-terminal status update (ignored here, the agent app only acts on
// a sub-task's terminal outcome), an "error" key marks a failed
// sub-task, and anything else is the terminal protocol.Task.
func parsePeerPayload(payload []byte) (result any, terminal bool, err error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, false, fmt.Errorf("agentapp: unmarshal peer payload: %w", err)
	}

	if _, hasFinal := probe["final"]; hasFinal {
		return nil, false, nil
	}

	if _, hasError := probe["error"]; hasError {
		var errEvt struct {
			Error *protocol.RPCError `json:"error"`
		}
		if err := json.Unmarshal(payload, &errEvt); err != nil {
			return nil, false, err
		}
		return map[string]any{"error": errEvt.Error.Message}, true, nil
	}

	var task protocol.Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, false, err
	}
	return &task, true, nil
}

func partsToAny(parts []protocol.Part) []any {
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out
}

var _ apphost.App = (*App)(nil)
