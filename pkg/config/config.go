// Package config loads the mesh's static configuration: which agents to
// run and how each is wired (LLM, tools, driver limits), the gateway's
// and sandbox's runtime settings, the control plane's policy, and which
// backend backs service discovery and middleware identity tokens.
//
// Grounded on the teacher's pkg/config: a koanf-backed Loader
// (koanf_loader.go) supporting file/consul/etcd/zookeeper sources with
// ${VAR}-style env var expansion (env.go), generalised from hector's
// agent/LLM/tool/RAG provider graph down to the mesh's flatter
// cmd/meshd wiring needs.
package config

import (
	"time"

	"github.com/solacelabs/agentmesh/pkg/observability"
)

// Config is the root of the mesh's static configuration document.
type Config struct {
	// Namespace prefixes every topic this mesh instance publishes to or
	// subscribes on (spec §4.1).
	Namespace string `yaml:"namespace,omitempty"`

	Broker       BrokerConfig       `yaml:"broker,omitempty"`
	Gateway      GatewayConfig      `yaml:"gateway,omitempty"`
	Agents       []AgentConfig      `yaml:"agents,omitempty"`
	Sandbox      SandboxConfig      `yaml:"sandbox,omitempty"`
	ControlPlane ControlPlaneConfig `yaml:"control_plane,omitempty"`
	Discovery    DiscoveryConfig    `yaml:"discovery,omitempty"`
	Middleware   MiddlewareConfig   `yaml:"middleware,omitempty"`

	Observability observability.Config `yaml:"observability,omitempty"`
}

// BrokerConfig selects the broker.Adapter implementation.
type BrokerConfig struct {
	// Type is "memory", the only broker.Adapter implementer shipped
	// (spec §4.2 Non-goals: "a real MQTT/Solace broker connection").
	Type string `yaml:"type,omitempty"`
}

// GatewayConfig configures the mesh's gateway.Gateway.
type GatewayConfig struct {
	GatewayID           string        `yaml:"gateway_id,omitempty"`
	HTTPAddr            string        `yaml:"http_addr,omitempty"`
	QueueSize           int           `yaml:"queue_size,omitempty"`
	NackBackoff         time.Duration `yaml:"nack_backoff,omitempty"`
	ResolveArtifactURIs bool          `yaml:"resolve_artifact_uris,omitempty"`

	// VectorIndexArtifacts wraps the configured artifact.Store in
	// artifact.NewVectorStore so gateway-resolved artifacts are also
	// semantically searchable (spec §4.6 vector-indexed variant).
	VectorIndexArtifacts bool `yaml:"vector_index_artifacts,omitempty"`
}

// AgentConfig configures one agentapp.App.
type AgentConfig struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools,omitempty"`

	MaxLLMCallsPerTask  int     `yaml:"max_llm_calls_per_task,omitempty"`
	CompactionThreshold float64 `yaml:"compaction_threshold,omitempty"`

	LLM LLMConfig `yaml:"llm,omitempty"`
}

// LLMConfig selects and parameterises a taskcore.LLMClient implementer.
type LLMConfig struct {
	// Provider names the bound implementer. "genai" is the only
	// non-test implementer shipped, wrapping
	// github.com/google/genai (spec's "shipping a specific LLM
	// provider" is explicitly a Non-goal; this binding is an example
	// the mesh operator may swap out). Empty disables LLM-backed
	// agents, leaving a mesh that only runs sandbox/control-plane apps.
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`

	// APIKey is typically a ${GEMINI_API_KEY}-style reference expanded
	// from the process environment rather than committed verbatim.
	APIKey string `yaml:"api_key,omitempty"`
}

// SandboxConfig configures the mesh's sandbox.Engine and the sandbox
// App instances fronting it.
type SandboxConfig struct {
	BaseDir                 string   `yaml:"base_dir,omitempty"`
	MaxConcurrentExecutions int      `yaml:"max_concurrent_executions,omitempty"`
	ManifestPath            string   `yaml:"manifest_path,omitempty"`
	SupervisorPath          string   `yaml:"supervisor_path,omitempty"`

	// Workers names one sandbox.App per worker identity (spec §4.10
	// "this worker's invocation-request topic").
	Workers []string `yaml:"workers,omitempty"`
}

// ControlPlaneConfig configures the mesh's controlplane.Service.
type ControlPlaneConfig struct {
	DenyAll bool `yaml:"deny_all,omitempty"`
}

// DiscoveryConfig selects and parameterises a discovery.CardStore.
type DiscoveryConfig struct {
	// Backend is "memory", "etcd", "consul", or "zookeeper". Empty
	// defaults to "memory".
	Backend   string   `yaml:"backend,omitempty"`
	Endpoints []string `yaml:"endpoints,omitempty"`
	Path      string   `yaml:"path,omitempty"`
}

// MiddlewareConfig configures the mesh's middleware.Registry bindings.
type MiddlewareConfig struct {
	JWT *JWTConfig `yaml:"jwt,omitempty"`
}

// JWTConfig configures a middleware.JWTTokenService.
type JWTConfig struct {
	// Key is typically a ${MESH_JWT_KEY}-style reference; a signing key
	// should never be committed to a config file verbatim.
	Key      string        `yaml:"key,omitempty"`
	Issuer   string        `yaml:"issuer,omitempty"`
	Audience string        `yaml:"audience,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
}
