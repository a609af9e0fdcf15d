package config

import "fmt"

// Validate checks a Config for structural errors, run after SetDefaults.
// Mirrors the teacher's strict_validator.go intent (catching malformed
// configuration before it reaches runtime construction) without
// replicating its full unknown-field detection, since this Config has
// no dynamic provider graph to typo against.
func (c *Config) Validate() error {
	switch c.Broker.Type {
	case "memory":
	default:
		return fmt.Errorf("config: broker.type %q is not supported (only \"memory\")", c.Broker.Type)
	}

	seen := make(map[string]struct{}, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("config: agent entry missing name")
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("config: duplicate agent name %q", a.Name)
		}
		seen[a.Name] = struct{}{}

		if a.LLM.Provider != "" && a.LLM.Provider != "genai" {
			return fmt.Errorf("config: agent %q: llm.provider %q is not supported", a.Name, a.LLM.Provider)
		}
		if a.CompactionThreshold <= 0 || a.CompactionThreshold > 1 {
			return fmt.Errorf("config: agent %q: compaction_threshold must be in (0, 1]", a.Name)
		}
	}

	switch c.Discovery.Backend {
	case "memory":
	case "etcd", "consul", "zookeeper":
		if len(c.Discovery.Endpoints) == 0 {
			return fmt.Errorf("config: discovery.backend %q requires at least one endpoint", c.Discovery.Backend)
		}
	default:
		return fmt.Errorf("config: discovery.backend %q is not supported", c.Discovery.Backend)
	}

	if c.Middleware.JWT != nil && c.Middleware.JWT.Key == "" {
		return fmt.Errorf("config: middleware.jwt.key is required when middleware.jwt is set")
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("config: observability: %w", err)
	}

	return nil
}
