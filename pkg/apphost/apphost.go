// Package apphost implements the process-local App lifecycle every
// mesh component runs under (spec §4.3): init -> start (subscribe all
// topics, spawn loops) -> running -> stop (unsubscribe, drain queues,
// join loops).
//
// Grounded on the teacher's pkg/server.Server start/stop/wait idiom
// (stopChan/doneChan, ordered cleanup) and pkg/runtime.Runtime's
// config-driven component assembly, generalised from one fixed set of
// HTTP/gRPC transports to an arbitrary registered set of Apps (agent,
// gateway, sandbox, control-plane) each owning its own broker
// subscriptions and loops, the way pkg/discovery.Listener.Run already
// shows: "meant to run as one App Host component goroutine."
package apphost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/solacelabs/agentmesh/pkg/broker"
)

// Info describes an App's identity, exposed to operational tooling and
// the Control Plane Service (spec §4.3, §4.11).
type Info struct {
	Name    string
	Type    string
	Enabled bool
}

// ManagementRequest is a JSON-RPC-over-topic method call routed to one
// app for handling (spec §4.3 "handle_management_request(method, path,
// body, ctx)").
type ManagementRequest struct {
	Method string
	Path   string
	Body   []byte
}

// ManagementResponse is an app's reply to a ManagementRequest.
type ManagementResponse struct {
	StatusCode int
	Body       []byte
}

// App owns a set of components and the broker subscriptions they need.
// One App is the unit the Host starts and stops: an agent, a gateway, a
// sandbox executor, or the control plane.
type App interface {
	Info() Info

	// Start subscribes every topic this app needs and spawns its loops.
	// It must return once loops are spawned, not block for their
	// lifetime (spec §4.3 step "start (subscribe all topics, spawn
	// loops)").
	Start(ctx context.Context, br broker.Adapter) error

	// Stop unsubscribes, drains, and joins every loop Start spawned. It
	// must not return until every loop it spawned has exited (spec
	// §4.3 step "stop (unsubscribe, drain queues, join loops)").
	Stop(ctx context.Context) error

	HandleManagementRequest(ctx context.Context, req ManagementRequest) (*ManagementResponse, error)
}

type state int

const (
	stateInit state = iota
	stateRunning
	stateStopped
)

// Host runs a fixed set of registered Apps against one broker
// connection (spec §4.3 "An App owns a set of components and a broker
// connection").
type Host struct {
	mu      sync.RWMutex
	broker  broker.Adapter
	apps    map[string]App
	running map[string]bool
	order   []string
	state   state
	log     *slog.Logger
}

// New constructs a Host bound to br. Apps must be Register-ed before
// Start.
func New(br broker.Adapter, log *slog.Logger) *Host {
	if log == nil {
		log = slog.Default()
	}
	return &Host{
		broker:  br,
		apps:    make(map[string]App),
		running: make(map[string]bool),
		log:     log.With("component", "apphost"),
	}
}

// Register adds app to the host. Apps may only be registered while the
// host is in its init state — a running host's app set is immutable
// in place (spec §4.3 "never mutate a running app in place"); use
// Reconfigure to replace the whole set.
func (h *Host) Register(app App) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != stateInit {
		return fmt.Errorf("apphost: cannot register app after start")
	}

	info := app.Info()
	if info.Name == "" {
		return fmt.Errorf("apphost: app has empty name")
	}
	if _, exists := h.apps[info.Name]; exists {
		return fmt.Errorf("apphost: app %q already registered", info.Name)
	}

	h.apps[info.Name] = app
	h.order = append(h.order, info.Name)
	return nil
}

// Start transitions init -> running, starting every enabled app in
// registration order. If an app fails to start, every app started so
// far is stopped before the error is returned, leaving no half-started
// host.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != stateInit {
		return fmt.Errorf("apphost: Start called outside init state")
	}

	var started []string
	for _, name := range h.order {
		app := h.apps[name]
		if !app.Info().Enabled {
			continue
		}
		if err := app.Start(ctx, h.broker); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = h.apps[started[i]].Stop(context.Background())
				h.running[started[i]] = false
			}
			return fmt.Errorf("apphost: start app %q: %w", name, err)
		}
		started = append(started, name)
		h.running[name] = true
		h.log.Info("app started", "app", name, "type", app.Info().Type)
	}

	h.state = stateRunning
	return nil
}

// Stop transitions running -> stopped, stopping every enabled app in
// reverse registration order. Stop is idempotent: calling it again once
// stopped is a no-op.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != stateRunning {
		return nil
	}

	var errs []error
	for i := len(h.order) - 1; i >= 0; i-- {
		name := h.order[i]
		app := h.apps[name]
		if !h.running[name] {
			continue
		}
		if err := app.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app %q: %w", name, err))
		}
		h.running[name] = false
		h.log.Info("app stopped", "app", name)
	}

	h.state = stateStopped
	return errors.Join(errs...)
}

// IsStartupComplete reports whether the broker connection every app
// depends on is live (spec §4.3: "is_startup_complete() and is_ready()
// both return broker_connected() (or true in dev mode)").
func (h *Host) IsStartupComplete() bool {
	return h.broker.IsConnected()
}

// IsReady is identical to IsStartupComplete per spec §4.3.
func (h *Host) IsReady() bool {
	return h.IsStartupComplete()
}

// App returns the registered app by name.
func (h *Host) App(name string) (App, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	app, ok := h.apps[name]
	return app, ok
}

// Apps returns the Info of every registered app, in registration order.
func (h *Host) Apps() []Info {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Info, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, h.apps[name].Info())
	}
	return out
}

// HandleManagementRequest routes req to the named app (spec §4.3,
// consumed by the Control Plane Service's REST-over-topic emulation in
// C11).
func (h *Host) HandleManagementRequest(ctx context.Context, appName string, req ManagementRequest) (*ManagementResponse, error) {
	app, ok := h.App(appName)
	if !ok {
		return nil, fmt.Errorf("apphost: app %q not found", appName)
	}
	return app.HandleManagementRequest(ctx, req)
}

// CreateApp starts and registers app against an already-running host
// (spec §4.11 "POST apps: create app from body"). Unlike Register, this
// is valid once the host is running, not just during init.
func (h *Host) CreateApp(ctx context.Context, app App) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	info := app.Info()
	if info.Name == "" {
		return fmt.Errorf("apphost: app has empty name")
	}
	if _, exists := h.apps[info.Name]; exists {
		return fmt.Errorf("apphost: app %q already exists", info.Name)
	}
	if info.Enabled {
		if err := app.Start(ctx, h.broker); err != nil {
			return fmt.Errorf("apphost: start app %q: %w", info.Name, err)
		}
		h.running[info.Name] = true
	}
	h.apps[info.Name] = app
	h.order = append(h.order, info.Name)
	h.log.Info("app created", "app", info.Name, "type", info.Type)
	return nil
}

// DeleteApp stops and removes a running or stopped app (spec §4.11
// "DELETE apps/{name}").
func (h *Host) DeleteApp(ctx context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	app, ok := h.apps[name]
	if !ok {
		return fmt.Errorf("apphost: app %q not found", name)
	}
	if h.running[name] {
		if err := app.Stop(ctx); err != nil {
			return fmt.Errorf("apphost: stop app %q: %w", name, err)
		}
	}
	delete(h.apps, name)
	delete(h.running, name)
	for i, n := range h.order {
		if n == name {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	h.log.Info("app deleted", "app", name)
	return nil
}

// RecreateApp stops the named app (if present) and registers replacement
// in its place, preserving its position in start/stop order (spec §4.11
// "PUT apps/{name}: stop+recreate with same name").
func (h *Host) RecreateApp(ctx context.Context, name string, replacement App) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.apps[name]; ok && h.running[name] {
		if err := existing.Stop(ctx); err != nil {
			return fmt.Errorf("apphost: stop app %q: %w", name, err)
		}
		h.running[name] = false
	}
	if replacement.Info().Enabled {
		if err := replacement.Start(ctx, h.broker); err != nil {
			return fmt.Errorf("apphost: start app %q: %w", name, err)
		}
		h.running[name] = true
	}
	if _, existed := h.apps[name]; !existed {
		h.order = append(h.order, name)
	}
	h.apps[name] = replacement
	h.log.Info("app recreated", "app", name)
	return nil
}

// SetAppEnabled starts or stops the named app in place without removing
// it from the host (spec §4.11 "PATCH apps/{name}: {enabled: bool}
// toggles start/stop").
func (h *Host) SetAppEnabled(ctx context.Context, name string, enabled bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	app, ok := h.apps[name]
	if !ok {
		return fmt.Errorf("apphost: app %q not found", name)
	}
	if enabled == h.running[name] {
		return nil
	}
	if enabled {
		if err := app.Start(ctx, h.broker); err != nil {
			return err
		}
		h.running[name] = true
		return nil
	}
	if err := app.Stop(ctx); err != nil {
		return err
	}
	h.running[name] = false
	return nil
}

// IsAppRunning reports whether the named app is currently started (spec
// §4.11 "GET apps/{name}: include management_endpoints" — callers use
// this to report live status alongside the app's static Info()).
func (h *Host) IsAppRunning(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running[name]
}

// Reconfigure stops h and returns a fresh Host running newApps (spec
// §4.3 "Reconfiguration = stop + re-init with new config; never mutate
// a running app in place"). h itself is left stopped; callers must
// switch to the returned Host.
func (h *Host) Reconfigure(ctx context.Context, newApps []App) (*Host, error) {
	if err := h.Stop(ctx); err != nil {
		return nil, fmt.Errorf("apphost: reconfigure: stop: %w", err)
	}

	next := New(h.broker, h.log)
	for _, app := range newApps {
		if err := next.Register(app); err != nil {
			return nil, fmt.Errorf("apphost: reconfigure: %w", err)
		}
	}
	if err := next.Start(ctx); err != nil {
		return nil, fmt.Errorf("apphost: reconfigure: %w", err)
	}
	return next, nil
}
