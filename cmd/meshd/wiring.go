package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	zk "github.com/go-zookeeper/zk"
	etcdclient "go.etcd.io/etcd/client/v3"

	"github.com/solacelabs/agentmesh/pkg/agentapp"
	"github.com/solacelabs/agentmesh/pkg/apphost"
	"github.com/solacelabs/agentmesh/pkg/artifact"
	"github.com/solacelabs/agentmesh/pkg/asynctask"
	"github.com/solacelabs/agentmesh/pkg/broker"
	"github.com/solacelabs/agentmesh/pkg/config"
	"github.com/solacelabs/agentmesh/pkg/controlplane"
	"github.com/solacelabs/agentmesh/pkg/discovery"
	"github.com/solacelabs/agentmesh/pkg/embed"
	"github.com/solacelabs/agentmesh/pkg/gateway"
	"github.com/solacelabs/agentmesh/pkg/llmclient"
	"github.com/solacelabs/agentmesh/pkg/middleware"
	"github.com/solacelabs/agentmesh/pkg/observability"
	"github.com/solacelabs/agentmesh/pkg/sandbox"
	"github.com/solacelabs/agentmesh/pkg/session"
	"github.com/solacelabs/agentmesh/pkg/taskcore"
	"github.com/solacelabs/agentmesh/pkg/topic"
)

// mesh bundles every constructed component a running meshd needs to
// shut down cleanly (spec §4.3 App Host + §4.8 Gateway + observability).
type mesh struct {
	host    *apphost.Host
	obs     *observability.Manager
	gwTr    *gateway.HTTPTransport
	gwAddr  string
	log     *slog.Logger
	metrics observability.Recorder

	discoveryRegistry *discovery.Registry
	discoveryListener *discovery.Listener
}

// buildMesh wires every SPEC_FULL.md component named in cfg into one
// App Host, the way the teacher's runtime.New assembles one Runtime
// from one Config (pkg/runtime/runtime.go), generalised from hector's
// fixed agent/LLM/tool/RAG graph to the mesh's broker-mediated App set.
func buildMesh(ctx context.Context, cfg *config.Config, log *slog.Logger) (*mesh, error) {
	obs, err := observability.NewFromConfig(ctx, &cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("meshd: observability: %w", err)
	}
	metrics := obs.Metrics()

	br := broker.NewMemoryBroker(cfg.Gateway.QueueSize)
	br.SetMetrics(metrics)

	host := apphost.New(br, log)

	reg := middleware.New()
	if jwtCfg := cfg.Middleware.JWT; jwtCfg != nil {
		ts, err := middleware.NewJWTTokenService(middleware.JWTConfig{
			Key:      []byte(jwtCfg.Key),
			Issuer:   jwtCfg.Issuer,
			Audience: jwtCfg.Audience,
			TTL:      jwtCfg.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("meshd: jwt token service: %w", err)
		}
		reg.BindTokenService(ts)
	}

	cardStore, err := buildCardStore(cfg.Discovery)
	if err != nil {
		return nil, err
	}
	discoveryRegistry, discoveryListener, err := buildDiscovery(ctx, cfg, br, cardStore, log)
	if err != nil {
		return nil, err
	}

	var artifactStore artifact.Store = artifact.NewMemoryStore()
	if cfg.Gateway.VectorIndexArtifacts {
		artifactStore = artifact.NewVectorStore(artifactStore)
	}

	embedResolver := embed.NewResolver(3)

	var manifest *sandbox.Manifest
	if cfg.Sandbox.ManifestPath != "" {
		manifest, err = sandbox.NewManifest(cfg.Sandbox.ManifestPath, log)
		if err != nil {
			return nil, fmt.Errorf("meshd: sandbox manifest: %w", err)
		}
	}
	sandboxCfg := sandbox.Config{
		BaseDir:                 cfg.Sandbox.BaseDir,
		MaxConcurrentExecutions: cfg.Sandbox.MaxConcurrentExecutions,
		Manifest:                manifest,
		Artifacts:               artifactStore,
		SupervisorPath:          cfg.Sandbox.SupervisorPath,
		Log:                     log,
	}
	for _, worker := range cfg.Sandbox.Workers {
		app := sandbox.NewApp(cfg.Namespace, sandbox.AppConfig{
			Name:    "sandbox-" + worker,
			Worker:  worker,
			Engine:  sandboxCfg,
			Log:     log,
			Metrics: metrics,
		})
		if err := host.Register(app); err != nil {
			return nil, fmt.Errorf("meshd: register sandbox app %q: %w", worker, err)
		}
	}

	for i := range cfg.Agents {
		agentCfg := cfg.Agents[i]
		app, err := buildAgent(ctx, cfg.Namespace, agentCfg, embedResolver, metrics, log)
		if err != nil {
			return nil, fmt.Errorf("meshd: agent %q: %w", agentCfg.Name, err)
		}
		if app == nil {
			continue
		}
		if err := host.Register(app); err != nil {
			return nil, fmt.Errorf("meshd: register agent %q: %w", agentCfg.Name, err)
		}
	}

	taskStore := asynctask.NewInMemoryStore()
	asyncApp := asynctask.New(asynctask.Config{
		Name:      "asynctask",
		Namespace: cfg.Namespace,
		Store:     taskStore,
		Log:       log,
	})
	if err := host.Register(asyncApp); err != nil {
		return nil, fmt.Errorf("meshd: register asynctask app: %w", err)
	}

	gw := gateway.New(gateway.Config{
		GatewayID:           cfg.Gateway.GatewayID,
		Namespace:           cfg.Namespace,
		QueueSize:           cfg.Gateway.QueueSize,
		NackBackoff:         cfg.Gateway.NackBackoff,
		ResolveArtifactURIs: cfg.Gateway.ResolveArtifactURIs,
		Middleware:          reg,
		ArtifactStore:       artifactStore,
		EmbedResolver:       embedResolver,
		Log:                 log,
	})
	gwTr := gateway.NewHTTPTransport(gw, log)
	gw.Wire(gwTr)
	if err := host.Register(gw); err != nil {
		return nil, fmt.Errorf("meshd: register gateway: %w", err)
	}

	cp := controlplane.New(cfg.Namespace, controlplane.Config{
		Name:      "controlplane",
		Namespace: cfg.Namespace,
		Host:      host,
		Registry:  reg,
		Factories: sandboxAppFactories(cfg.Namespace, sandboxCfg, log, metrics),
		DenyAll:   cfg.ControlPlane.DenyAll,
		Log:       log,
	})
	if err := host.Register(cp); err != nil {
		return nil, fmt.Errorf("meshd: register control plane: %w", err)
	}

	return &mesh{
		host:              host,
		obs:               obs,
		gwTr:              gwTr,
		gwAddr:            cfg.Gateway.HTTPAddr,
		log:               log,
		metrics:           metrics,
		discoveryRegistry: discoveryRegistry,
		discoveryListener: discoveryListener,
	}, nil
}

// buildAgent constructs one agentapp.App, or nil (with a logged
// warning) when the agent's LLM provider is left unset. The mesh
// operator may run sandbox/control-plane-only meshes this way
// (pkg/config's LLMConfig.Provider doc comment).
func buildAgent(ctx context.Context, namespace string, agentCfg config.AgentConfig, resolver *embed.Resolver, metrics observability.Recorder, log *slog.Logger) (*agentapp.App, error) {
	var llmClient taskcore.LLMClient
	switch agentCfg.LLM.Provider {
	case "":
		log.Warn("agent has no llm provider configured, skipping", "agent", agentCfg.Name)
		return nil, nil
	case "genai":
		client, err := llmclient.NewGeminiClient(ctx, llmclient.Config{
			APIKey: agentCfg.LLM.APIKey,
			Model:  agentCfg.LLM.Model,
		})
		if err != nil {
			return nil, err
		}
		llmClient = client
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", agentCfg.LLM.Provider)
	}

	tools := make([]taskcore.ToolSpec, 0, len(agentCfg.Tools))
	for _, name := range agentCfg.Tools {
		tools = append(tools, taskcore.ToolSpec{
			Name:        name,
			Description: fmt.Sprintf("sandbox-executed tool %q", name),
			Schema:      map[string]any{"type": "object"},
		})
	}

	return agentapp.New(namespace, agentapp.Config{
		AgentName: agentCfg.Name,
		Namespace: namespace,
		LLM:       llmClient,
		Tools:     tools,
		Session:   session.InMemoryService(),
		Driver: taskcore.Config{
			MaxLLMCallsPerTask:  agentCfg.MaxLLMCallsPerTask,
			CompactionThreshold: agentCfg.CompactionThreshold,
		},
		EmbedResolver: resolver,
		Metrics:       metrics,
		Log:           log,
	}), nil
}

// sandboxAppFactories exposes dynamic sandbox-worker creation through
// the Control Plane Service's AppSpec path (spec §4.11 create_app):
// every other app type (agent, gateway, asynctask) needs credentials or
// shared singletons cmd/meshd wires once at startup and that a JSON
// AppSpec body has no room to carry, so only "sandbox" is dynamically
// creatable.
func sandboxAppFactories(namespace string, engineCfg sandbox.Config, log *slog.Logger, metrics observability.Recorder) map[string]controlplane.AppFactory {
	return map[string]controlplane.AppFactory{
		"sandbox": func(name string, rawConfig json.RawMessage) (apphost.App, error) {
			var body struct {
				Worker string `json:"worker"`
			}
			if len(rawConfig) > 0 {
				if err := json.Unmarshal(rawConfig, &body); err != nil {
					return nil, fmt.Errorf("invalid sandbox app config: %w", err)
				}
			}
			if body.Worker == "" {
				body.Worker = name
			}
			return sandbox.NewApp(namespace, sandbox.AppConfig{
				Name:    name,
				Worker:  body.Worker,
				Engine:  engineCfg,
				Log:     log,
				Metrics: metrics,
			}), nil
		},
	}
}

// buildCardStore constructs the optional durable discovery.CardStore
// named by cfg.Backend, or nil for the "memory" default (no durable
// seeding, matching discovery.Registry's always-in-memory read model).
func buildCardStore(cfg config.DiscoveryConfig) (discovery.CardStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return nil, nil

	case "etcd":
		client, err := etcdclient.New(etcdclient.Config{
			Endpoints:   cfg.Endpoints,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("meshd: etcd discovery client: %w", err)
		}
		return discovery.NewEtcdCardStore(client), nil

	case "consul":
		consulCfg := consulapi.DefaultConfig()
		consulCfg.Address = cfg.Endpoints[0]
		client, err := consulapi.NewClient(consulCfg)
		if err != nil {
			return nil, fmt.Errorf("meshd: consul discovery client: %w", err)
		}
		return discovery.NewConsulCardStore(client), nil

	case "zookeeper":
		conn, _, err := zk.Connect(cfg.Endpoints, 10*time.Second)
		if err != nil {
			return nil, fmt.Errorf("meshd: zookeeper discovery client: %w", err)
		}
		return discovery.NewZKCardStore(conn), nil

	default:
		return nil, fmt.Errorf("meshd: unsupported discovery backend %q", cfg.Backend)
	}
}

// buildDiscovery constructs the standalone discovery read model (spec
// §4.4): a Registry fed live by a Listener subscribed to the discovery
// topic, seeded once from cardStore if one is configured. This registry
// is independent of the one each Gateway keeps internally for peer
// routing; this one backs the mesh-wide read API (e.g. the control
// plane's future agent-lookup endpoints).
func buildDiscovery(ctx context.Context, cfg *config.Config, br broker.Adapter, cardStore discovery.CardStore, log *slog.Logger) (*discovery.Registry, *discovery.Listener, error) {
	registry := discovery.NewRegistry(0, log)
	if cardStore != nil {
		cards, err := cardStore.List(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("meshd: seed discovery registry: %w", err)
		}
		for _, card := range cards {
			registry.Upsert(card.Name, card)
		}
	}

	builder := topic.NewBuilder(cfg.Namespace)
	listener := discovery.NewListener(registry, br, builder, log)
	return registry, listener, nil
}
