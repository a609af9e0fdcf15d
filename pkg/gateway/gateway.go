// Package gateway implements the Gateway Core (spec §4.8): one external
// transport bridged to the mesh by a dedicated async loop. Broker
// deliveries are copied into an internal bounded queue by lightweight
// per-subscription feeder goroutines so a slow bridge-loop consumer
// never blocks a broker callback; the loop itself runs serialized on
// one dedicated goroutine, in the idiom of the teacher's
// pkg/server.Server stopChan/doneChan loop pair, generalised to one
// loop per bound subscription plus one bridge-processing loop.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/solacelabs/agentmesh/pkg/apphost"
	"github.com/solacelabs/agentmesh/pkg/artifact"
	"github.com/solacelabs/agentmesh/pkg/broker"
	"github.com/solacelabs/agentmesh/pkg/discovery"
	"github.com/solacelabs/agentmesh/pkg/embed"
	"github.com/solacelabs/agentmesh/pkg/middleware"
	"github.com/solacelabs/agentmesh/pkg/topic"
)

// Config configures one Gateway instance.
type Config struct {
	// GatewayID is this gateway's identity on the mesh: the clientId on
	// published requests and the routing key in gateway/{response,status}
	// topics (spec §4.8.1 step 7).
	GatewayID string

	// Namespace is the topic namespace builder prefix (spec §4.1).
	Namespace string

	// QueueSize bounds the internal queue decoupling broker delivery
	// from bridge-loop processing (spec §4.8 "internal bounded queue").
	QueueSize int

	// NackBackoff is slept before retrying after a NACK, to avoid a
	// busy loop (spec §4.8.2 "ACK policy").
	NackBackoff time.Duration

	// ResolveArtifactURIs enables replacing FileWithUri parts with
	// FileWithBytes by loading from ArtifactStore (spec §4.8.2 step 2a,
	// "a configurable gateway-side behaviour").
	ResolveArtifactURIs bool

	Middleware    *middleware.Registry
	ArtifactStore artifact.Store
	EmbedResolver *embed.Resolver
	Sink          ExternalSink

	Log *slog.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.QueueSize <= 0 {
		out.QueueSize = 256
	}
	if out.NackBackoff <= 0 {
		out.NackBackoff = 100 * time.Millisecond
	}
	if out.Middleware == nil {
		out.Middleware = middleware.New()
	}
	if out.Log == nil {
		out.Log = slog.Default()
	}
	return out
}

type queueItem struct {
	topic     string
	payload   []byte
	userProps map[string]any
	msg       *broker.Message
}

// Gateway is one App Host App implementing the Gateway Core (spec
// §4.8). One Gateway owns one external transport's worth of in-flight
// tasks.
type Gateway struct {
	cfg     Config
	builder *topic.Builder
	ctxMgr  *TaskContextManager
	agents  *discovery.Registry
	log     *slog.Logger

	br    broker.Adapter
	queue chan queueItem

	loops []loopHandle
}

type loopHandle struct {
	stop chan struct{}
	done chan struct{}
}

// Wire binds sink as this Gateway's ExternalSink, replacing whatever
// Config.Sink was set at construction. Transports such as HTTPTransport
// need an already-constructed *Gateway to subscribe to (they handle
// inbound submissions against it) but are themselves the Sink the
// Gateway delivers outbound events through, so the two must be built in
// two steps: New, then NewHTTPTransport, then Wire. Call it before
// Start.
func (g *Gateway) Wire(sink ExternalSink) {
	g.cfg.Sink = sink
}

// New constructs a Gateway. It does not subscribe anything until Start
// is called by the App Host.
func New(cfg Config) *Gateway {
	resolved := cfg.withDefaults()
	return &Gateway{
		cfg:     resolved,
		builder: topic.NewBuilder(resolved.Namespace),
		ctxMgr:  NewTaskContextManager(),
		agents:  discovery.NewRegistry(0, resolved.Log),
		log:     resolved.Log.With("component", "gateway", "gateway_id", resolved.GatewayID),
	}
}

// Info identifies this gateway to the App Host (spec §4.3).
func (g *Gateway) Info() apphost.Info {
	return apphost.Info{Name: g.cfg.GatewayID, Type: "gateway", Enabled: true}
}

// Start subscribes the discovery feed and this gateway's own
// response/status traffic, then spawns the feeder and bridge-loop
// goroutines (spec §4.3 step "start").
func (g *Gateway) Start(ctx context.Context, br broker.Adapter) error {
	g.br = br
	g.queue = make(chan queueItem, g.cfg.QueueSize)

	discoverySub, err := br.Subscribe(ctx, g.builder.DiscoverySubscription(), "gateway-"+g.cfg.GatewayID+"-discovery")
	if err != nil {
		return fmt.Errorf("gateway: subscribe discovery: %w", err)
	}
	ownSub, err := br.Subscribe(ctx, g.builder.GatewaySubscription(g.cfg.GatewayID), "gateway-"+g.cfg.GatewayID+"-own")
	if err != nil {
		br.Unsubscribe(g.builder.DiscoverySubscription())
		return fmt.Errorf("gateway: subscribe own traffic: %w", err)
	}

	g.loops = append(g.loops, g.spawnFeeder(discoverySub))
	g.loops = append(g.loops, g.spawnFeeder(ownSub))
	g.loops = append(g.loops, g.spawnBridgeLoop())

	return nil
}

// Stop unsubscribes both patterns, which unblocks the feeder goroutines
// via their subscription channel closing, then waits for every spawned
// loop to exit before clearing task context (spec §4.3 step "stop").
func (g *Gateway) Stop(ctx context.Context) error {
	_ = g.br.Unsubscribe(g.builder.DiscoverySubscription())
	_ = g.br.Unsubscribe(g.builder.GatewaySubscription(g.cfg.GatewayID))

	for _, l := range g.loops {
		close(l.stop)
	}
	close(g.queue)
	for _, l := range g.loops {
		select {
		case <-l.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	g.loops = nil
	g.ctxMgr.ClearAll()
	return nil
}

// spawnFeeder copies deliveries from sub into the internal queue,
// exiting when sub's channel is closed by Unsubscribe (spec §4.8
// "broker messages are copied into an internal bounded queue by the
// broker-receive callback").
func (g *Gateway) spawnFeeder(sub *broker.Subscription) loopHandle {
	h := loopHandle{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(h.done)
		for msg := range sub.Messages() {
			item := queueItem{topic: msg.Topic, payload: msg.Payload, userProps: msg.UserProperties, msg: msg}
			select {
			case g.queue <- item:
			case <-h.stop:
				return
			}
		}
	}()
	return h
}

// spawnBridgeLoop runs the single serialized consumer of the internal
// queue (spec §4.8 "a dedicated async loop on a dedicated thread").
func (g *Gateway) spawnBridgeLoop() loopHandle {
	h := loopHandle{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(h.done)
		for item := range g.queue {
			g.handleQueueItem(context.Background(), item)
		}
	}()
	return h
}

// HandleManagementRequest reports bridge-loop liveness and in-flight
// task count (spec §4.3 App interface).
func (g *Gateway) HandleManagementRequest(ctx context.Context, req apphost.ManagementRequest) (*apphost.ManagementResponse, error) {
	if req.Path == "/health" || req.Path == "" {
		return &apphost.ManagementResponse{StatusCode: 200, Body: []byte(fmt.Sprintf(`{"gateway":%q,"in_flight_tasks":%d}`, g.cfg.GatewayID, g.ctxMgr.Len()))}, nil
	}
	return nil, fmt.Errorf("gateway: unknown management path %q", req.Path)
}

// NewTaskID allocates a task id in the gateway's namespace (spec
// §4.8.1 step 5: `task_id = "gdk-task-" + uuid`).
func NewTaskID() string {
	return "gdk-task-" + uuid.NewString()
}
