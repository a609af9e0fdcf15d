// Package controlplane implements the Control Plane Service (spec
// §4.11): a JSON-RPC-over-topic REST emulation over the App Host's
// registered apps, with pluggable authorization and a response
// published to the request's replyTo.
//
// Grounded on the teacher's pkg/server HTTP route dispatch (verb-keyed
// handlers, "/agents/{name}/{subpath...}" path splitting in
// handleAgentRoutes), generalised from real HTTP request/response to a
// topic-carried JSON-RPC envelope whose verb travels in the topic's
// method segment rather than the HTTP method.
package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/solacelabs/agentmesh/pkg/apphost"
	"github.com/solacelabs/agentmesh/pkg/broker"
	"github.com/solacelabs/agentmesh/pkg/middleware"
	"github.com/solacelabs/agentmesh/pkg/protocol"
	"github.com/solacelabs/agentmesh/pkg/topic"
)

// AppFactory constructs a concrete apphost.App from a JSON config body,
// keyed by the app's declared "type" (spec §4.11 "POST apps: create app
// from body"). cmd/meshd registers one factory per app type it knows how
// to build (agent, gateway, sandbox, asynctask).
type AppFactory func(name string, rawConfig json.RawMessage) (apphost.App, error)

// AppSpec is the POST/PUT apps body shape: a named app of a registered
// type, plus that type's own config.
type AppSpec struct {
	Name   string          `json:"name"`
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

// Config configures one Service instance.
type Config struct {
	Name string

	Namespace string

	Host      *apphost.Host
	Registry  *middleware.Registry
	Factories map[string]AppFactory

	// DenyAll, if set, rejects every control-plane operation
	// unconditionally (spec §4.11 "A fixed deny_all setting rejects
	// unconditionally").
	DenyAll bool

	Log *slog.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Name == "" {
		out.Name = "control-plane"
	}
	if out.Registry == nil {
		out.Registry = middleware.New()
	}
	if out.Factories == nil {
		out.Factories = make(map[string]AppFactory)
	}
	if out.Log == nil {
		out.Log = slog.Default()
	}
	return out
}

// Service is the Control Plane as an apphost.App: it subscribes the
// wildcard control topic and dispatches every request to the bound App
// Host, by REST-like verb and resource path.
type Service struct {
	cfg     Config
	builder *topic.Builder
	log     *slog.Logger

	br   broker.Adapter
	stop chan struct{}
	done chan struct{}
}

// New constructs a Service. namespace is the topic builder prefix.
func New(namespace string, cfg Config) *Service {
	resolved := cfg.withDefaults()
	return &Service{
		cfg:     resolved,
		builder: topic.NewBuilder(namespace),
		log:     resolved.Log.With("component", "controlplane"),
	}
}

func (s *Service) Info() apphost.Info {
	return apphost.Info{Name: s.cfg.Name, Type: "controlplane", Enabled: true}
}

func (s *Service) Start(ctx context.Context, br broker.Adapter) error {
	s.br = br
	sub, err := br.Subscribe(ctx, s.builder.ControlPlaneSubscription(), s.cfg.Name)
	if err != nil {
		return fmt.Errorf("controlplane: subscribe: %w", err)
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(sub)
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	_ = s.br.Unsubscribe(s.builder.ControlPlaneSubscription())
	close(s.stop)
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (s *Service) run(sub *broker.Subscription) {
	defer close(s.done)
	for msg := range sub.Messages() {
		s.handle(msg)
		select {
		case <-s.stop:
			return
		default:
		}
	}
}

// requestParams is the JSON-RPC params shape of a control-plane request
// (spec §6.3 "Bodies are JSON-RPC params.body").
type requestParams struct {
	Body json.RawMessage `json:"body"`
}

func (s *Service) handle(msg *broker.Message) {
	method, resource, name, rest, ok := parseControlTopic(s.builder.Namespace, msg.Topic)
	if !ok || resource != "apps" {
		s.respond(msg, nil, protocol.ErrMethodNotFound(msg.Topic))
		return
	}

	var env protocol.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		s.respond(msg, nil, protocol.ErrInvalidRequest("malformed envelope"))
		return
	}
	var params requestParams
	if env.Params != nil {
		raw, _ := json.Marshal(env.Params)
		_ = json.Unmarshal(raw, &params)
	}

	ctx := context.Background()
	if denied := s.authorize(ctx, msg, method, name, rest); denied != nil {
		s.respondID(msg, env.ID, nil, denied)
		return
	}

	result, rpcErr := s.dispatch(ctx, method, name, rest, params.Body)
	s.respondID(msg, env.ID, result, rpcErr)
}

func (s *Service) authorize(ctx context.Context, msg *broker.Message, method, name string, rest []string) *protocol.RPCError {
	if s.cfg.DenyAll {
		return protocol.ErrAuthDenied("deny_all")
	}
	userConfig, _ := msg.UserProperties["a2aUserConfig"].(map[string]any)
	validationContext := map[string]any{
		"operation_type": "control_plane_access",
		"method":         method,
		"app_name":       name,
		"custom_path":    strings.Join(rest, "/"),
		"resource":       "apps",
		"component_type": "control_service",
	}
	if err := s.cfg.Registry.AccessValidator().ValidateAgentAccess(ctx, name, userConfig, validationContext); err != nil {
		return protocol.ErrAuthDenied(err.Error())
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, method, name string, rest []string, body json.RawMessage) (any, *protocol.RPCError) {
	switch {
	case name == "":
		return s.dispatchCollection(ctx, method, body)
	case len(rest) == 0:
		return s.dispatchApp(ctx, method, name, body)
	default:
		return s.dispatchCustom(ctx, method, name, rest, body)
	}
}

// dispatchCollection handles GET/POST over the bare `apps` collection
// (spec §4.11 "Methods over apps collection").
func (s *Service) dispatchCollection(ctx context.Context, method string, body json.RawMessage) (any, *protocol.RPCError) {
	switch method {
	case "get":
		return s.cfg.Host.Apps(), nil
	case "post":
		var spec AppSpec
		if err := json.Unmarshal(body, &spec); err != nil || spec.Name == "" || spec.Type == "" {
			return nil, protocol.ErrInvalidRequest("body must be {name, type, config}")
		}
		factory, ok := s.cfg.Factories[spec.Type]
		if !ok {
			return nil, protocol.ErrInvalidRequest("unknown app type: " + spec.Type)
		}
		app, err := factory(spec.Name, spec.Config)
		if err != nil {
			return nil, &protocol.RPCError{Code: protocol.CodeOperationFailed, Message: err.Error()}
		}
		if err := s.cfg.Host.CreateApp(ctx, app); err != nil {
			return nil, &protocol.RPCError{Code: protocol.CodeConflict, Message: err.Error()}
		}
		return app.Info(), nil
	default:
		return nil, protocol.ErrMethodNotFound(method)
	}
}

// appView is the GET apps/{name} response shape, carrying both the
// app's static Info and its live running state (spec §4.11 "GET (include
// management_endpoints)").
type appView struct {
	apphost.Info
	Running             bool     `json:"running"`
	ManagementEndpoints []string `json:"managementEndpoints"`
}

// dispatchApp handles GET/PUT/PATCH/DELETE over one named app (spec
// §4.11 "Over apps/{name}").
func (s *Service) dispatchApp(ctx context.Context, method, name string, body json.RawMessage) (any, *protocol.RPCError) {
	switch method {
	case "get":
		app, ok := s.cfg.Host.App(name)
		if !ok {
			return nil, &protocol.RPCError{Code: protocol.CodeNotFound, Message: "app not found: " + name}
		}
		return appView{Info: app.Info(), Running: s.cfg.Host.IsAppRunning(name), ManagementEndpoints: []string{"/health"}}, nil

	case "put":
		var spec AppSpec
		if err := json.Unmarshal(body, &spec); err != nil || spec.Type == "" {
			return nil, protocol.ErrInvalidRequest("body must be {type, config}")
		}
		factory, ok := s.cfg.Factories[spec.Type]
		if !ok {
			return nil, protocol.ErrInvalidRequest("unknown app type: " + spec.Type)
		}
		replacement, err := factory(name, spec.Config)
		if err != nil {
			return nil, &protocol.RPCError{Code: protocol.CodeOperationFailed, Message: err.Error()}
		}
		if err := s.cfg.Host.RecreateApp(ctx, name, replacement); err != nil {
			return nil, &protocol.RPCError{Code: protocol.CodeOperationFailed, Message: err.Error()}
		}
		return replacement.Info(), nil

	case "patch":
		var patch struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.Unmarshal(body, &patch); err != nil || patch.Enabled == nil {
			return nil, protocol.ErrInvalidRequest("body must be {enabled: bool}")
		}
		if err := s.cfg.Host.SetAppEnabled(ctx, name, *patch.Enabled); err != nil {
			return nil, &protocol.RPCError{Code: protocol.CodeOperationFailed, Message: err.Error()}
		}
		app, _ := s.cfg.Host.App(name)
		return appView{Info: app.Info(), Running: s.cfg.Host.IsAppRunning(name)}, nil

	case "delete":
		if err := s.cfg.Host.DeleteApp(ctx, name); err != nil {
			return nil, &protocol.RPCError{Code: protocol.CodeNotFound, Message: err.Error()}
		}
		return map[string]bool{"deleted": true}, nil

	default:
		return nil, protocol.ErrMethodNotFound(method)
	}
}

// dispatchCustom delegates apps/{name}/{custom_path...} to the app's own
// HandleManagementRequest (spec §4.11 "delegate to the app's
// handle_management_request").
func (s *Service) dispatchCustom(ctx context.Context, method, name string, rest []string, body json.RawMessage) (any, *protocol.RPCError) {
	resp, err := s.cfg.Host.HandleManagementRequest(ctx, name, apphost.ManagementRequest{
		Method: strings.ToUpper(method),
		Path:   "/" + strings.Join(rest, "/"),
		Body:   body,
	})
	if err != nil {
		return nil, &protocol.RPCError{Code: protocol.CodeNotFound, Message: err.Error()}
	}
	if resp.StatusCode >= 400 {
		return nil, &protocol.RPCError{Code: protocol.CodeOperationFailed, Message: string(resp.Body)}
	}
	var out any
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return string(resp.Body), nil
	}
	return out, nil
}

func (s *Service) respond(msg *broker.Message, result any, rpcErr *protocol.RPCError) {
	s.respondID(msg, "", result, rpcErr)
}

func (s *Service) respondID(msg *broker.Message, id string, result any, rpcErr *protocol.RPCError) {
	replyTo, _ := msg.UserProperties["replyTo"].(string)
	if replyTo == "" {
		s.log.Info("controlplane: no replyTo, dropping response", "topic", msg.Topic)
		msg.Ack()
		return
	}

	var env *protocol.Envelope
	if rpcErr != nil {
		env = protocol.NewError(id, rpcErr)
	} else {
		env = protocol.NewResult(id, result)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		s.log.Warn("controlplane: marshal response failed", "error", err)
		msg.Nack()
		return
	}
	if err := s.br.Publish(context.Background(), replyTo, payload, nil); err != nil {
		s.log.Warn("controlplane: publish response failed", "error", err)
		msg.Nack()
		return
	}
	msg.Ack()
}

func (s *Service) HandleManagementRequest(_ context.Context, req apphost.ManagementRequest) (*apphost.ManagementResponse, error) {
	if req.Path == "/health" || req.Path == "" {
		return &apphost.ManagementResponse{StatusCode: 200, Body: []byte(fmt.Sprintf(`{"service":%q}`, s.cfg.Name))}, nil
	}
	return nil, fmt.Errorf("controlplane: unknown management path %q", req.Path)
}

// parseControlTopic splits a concrete control-plane topic into its
// method/apps/name/rest segments (the inverse of Builder.ControlPlane).
// namespace must match Builder.Namespace exactly, trailing separator
// included.
func parseControlTopic(namespace, topicStr string) (method, resource, name string, rest []string, ok bool) {
	prefix := namespace + "sam/v1/control/"
	if !strings.HasPrefix(topicStr, prefix) {
		return "", "", "", nil, false
	}
	residue := strings.TrimPrefix(topicStr, prefix)
	levels := strings.Split(residue, topic.Sep)
	if len(levels) < 2 {
		return "", "", "", nil, false
	}
	method = levels[0]
	resource = levels[1]
	if len(levels) > 2 {
		name = levels[2]
	}
	if len(levels) > 3 {
		rest = levels[3:]
	}
	return method, resource, name, rest, true
}
