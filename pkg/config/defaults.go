package config

import (
	"os"
	"time"
)

// DefaultNamespace is applied when Config.Namespace is empty.
const DefaultNamespace = "agentmesh"

// SetDefaults fills in unset fields with the mesh's documented
// defaults, mirroring each component's own withDefaults (gateway.Config,
// sandbox.Config, controlplane.Config) so a loaded Config can be handed
// to cmd/meshd without every field needing to be spelled out.
func (c *Config) SetDefaults() {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.Broker.Type == "" {
		c.Broker.Type = "memory"
	}

	if c.Gateway.GatewayID == "" {
		c.Gateway.GatewayID = "gateway-1"
	}
	if c.Gateway.QueueSize <= 0 {
		c.Gateway.QueueSize = 256
	}
	if c.Gateway.NackBackoff <= 0 {
		c.Gateway.NackBackoff = 100 * time.Millisecond
	}

	for i := range c.Agents {
		a := &c.Agents[i]
		if a.MaxLLMCallsPerTask <= 0 {
			a.MaxLLMCallsPerTask = 25
		}
		if a.CompactionThreshold <= 0 {
			a.CompactionThreshold = 0.25
		}
	}

	if c.Sandbox.BaseDir == "" {
		c.Sandbox.BaseDir = os.TempDir() + "/agentmesh-sandbox"
	}
	if c.Sandbox.MaxConcurrentExecutions <= 0 {
		c.Sandbox.MaxConcurrentExecutions = 4
	}

	if c.Discovery.Backend == "" {
		c.Discovery.Backend = "memory"
	}

	if c.Middleware.JWT != nil && c.Middleware.JWT.TTL <= 0 {
		c.Middleware.JWT.TTL = time.Hour
	}

	c.Observability.SetDefaults()
}
