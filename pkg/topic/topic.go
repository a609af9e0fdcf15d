// Package topic builds and parses the mesh's A2A topic grammar and
// implements broker subscription-pattern matching.
//
// Grounded on the topic-string conventions of
// github.com/kadirpekel/hector/pkg/a2a (agent/gateway addressing) and
// generalised to the pub/sub-rooted grammar of spec §4.1: every topic is
// namespaced, every subscription pattern uses the two broker wildcards
// `*` (single level) and `>` (match to end).
package topic

import (
	"fmt"
	"strings"
)

const (
	// Separator between topic levels.
	Sep = "/"
	// SingleLevelWildcard matches exactly one topic level.
	SingleLevelWildcard = "*"
	// MultiLevelWildcard matches the remainder of the topic; valid only
	// as the final level of a subscription pattern.
	MultiLevelWildcard = ">"
)

// Builder constructs mesh topic strings under a fixed namespace.
type Builder struct {
	Namespace string
}

// NewBuilder returns a Builder for the given namespace, which must be a
// non-empty absolute prefix (e.g. "acme/dev/"); a trailing separator is
// added if missing.
func NewBuilder(namespace string) *Builder {
	if namespace != "" && !strings.HasSuffix(namespace, Sep) {
		namespace += Sep
	}
	return &Builder{Namespace: namespace}
}

func (b *Builder) ns(suffix string) string {
	return b.Namespace + suffix
}

// DiscoveryCard is the topic one agent republishes its card on.
func (b *Builder) DiscoveryCard(agent string) string {
	return b.ns(fmt.Sprintf("a2a/v1/discovery/agentcards/%s", agent))
}

// DiscoverySubscription is the wildcard pattern consumed by every
// participant to learn about all agents.
func (b *Builder) DiscoverySubscription() string {
	return b.ns("a2a/v1/discovery/agentcards/" + MultiLevelWildcard)
}

// AgentRequest is the topic a target agent listens for inbound work on.
func (b *Builder) AgentRequest(agent string) string {
	return b.ns(fmt.Sprintf("a2a/v1/agent/request/%s", agent))
}

// AgentPeerResponse is the per-task sink an agent subscribes to for
// replies from peers it has delegated sub-tasks to.
func (b *Builder) AgentPeerResponse(agent, taskID string) string {
	return b.ns(fmt.Sprintf("a2a/v1/agent/response/%s/%s", agent, taskID))
}

// AgentPeerResponseSubscription is the wildcard subscription an agent's
// App Host binds once to receive all of its own peer-response traffic.
func (b *Builder) AgentPeerResponseSubscription(agent string) string {
	return b.ns(fmt.Sprintf("a2a/v1/agent/response/%s/%s", agent, MultiLevelWildcard))
}

// GatewayResponse is the topic a gateway receives the final/ongoing
// reply for one task on.
func (b *Builder) GatewayResponse(gateway, taskID string) string {
	return b.ns(fmt.Sprintf("a2a/v1/gateway/response/%s/%s", gateway, taskID))
}

// GatewayStatus is the topic a gateway receives streaming status/artifact
// updates for one task on.
func (b *Builder) GatewayStatus(gateway, taskID string) string {
	return b.ns(fmt.Sprintf("a2a/v1/gateway/status/%s/%s", gateway, taskID))
}

// GatewaySubscription is the wildcard subscription a gateway binds once
// to receive reply/status traffic for every task it has in flight.
func (b *Builder) GatewaySubscription(gateway string) string {
	return b.ns(fmt.Sprintf("a2a/v1/gateway/%s/%s/%s", SingleLevelWildcard, gateway, MultiLevelWildcard))
}

// SandboxRequest is the topic a sandbox worker listens for invocations on.
func (b *Builder) SandboxRequest(worker string) string {
	return b.ns(fmt.Sprintf("a2a/v1/sandbox/request/%s", worker))
}

// AsyncServiceUserResponse is the topic a gateway publishes a human's
// form response to.
func (b *Builder) AsyncServiceUserResponse(gateway string) string {
	return b.ns(fmt.Sprintf("a2a/v1/stimulus/async-service/user-response/%s", gateway))
}

// AsyncServiceUserResponseSubscription is the wildcard subscription the
// Async Human-Task Service binds once to receive every gateway's
// form-response traffic.
func (b *Builder) AsyncServiceUserResponseSubscription() string {
	return b.ns("a2a/v1/stimulus/async-service/user-response/" + MultiLevelWildcard)
}

// OrchestratorAsyncResponse is the fixed topic the Async Human-Task
// Service publishes aggregated stimulus completions on.
func (b *Builder) OrchestratorAsyncResponse() string {
	return b.ns("solace-agent-mesh/v1/stimulus/orchestrator/asyncResponse")
}

// ControlPlane builds a control-plane management topic. name and rest
// are optional; rest is joined verbatim to support custom management
// sub-paths delegated to App.HandleManagementRequest.
func (b *Builder) ControlPlane(method, name string, rest ...string) string {
	t := b.ns(fmt.Sprintf("sam/v1/control/%s/apps", method))
	if name != "" {
		t += Sep + name
	}
	for _, r := range rest {
		t += Sep + r
	}
	return t
}

// ControlPlaneSubscription is the wildcard subscription the Control
// Plane Service binds once at startup.
func (b *Builder) ControlPlaneSubscription() string {
	return b.ns("sam/v1/control/" + MultiLevelWildcard)
}

// LastSegment returns the final `/`-separated level of a topic — the
// convention used throughout the grammar to carry a trailing task id.
func LastSegment(t string) string {
	idx := strings.LastIndex(t, Sep)
	if idx < 0 {
		return t
	}
	return t[idx+1:]
}

// ExtractTrailingID strips a known subscription prefix from a concrete
// topic and returns the residue, matching spec §4.1's rule that "{task_id}
// is always the last path segment when present; an extractor matches the
// subscription prefix regex and treats the residue as the id." prefix
// must not include its trailing wildcard segment (e.g. pass
// "ns/a2a/v1/gateway/response/gw1/" for subscription
// "ns/a2a/v1/gateway/response/gw1/>").
func ExtractTrailingID(topicStr, prefix string) (string, bool) {
	if !strings.HasPrefix(topicStr, prefix) {
		return "", false
	}
	residue := strings.TrimPrefix(topicStr, prefix)
	if residue == "" || strings.Contains(residue, Sep) {
		return "", false
	}
	return residue, true
}

// Matches reports whether a concrete topic satisfies a subscription
// pattern containing `*` (single level) and `>` (match to end, only
// valid as the last level). Topic equality outside wildcarded levels is
// byte-exact.
func Matches(pattern, topicStr string) bool {
	patternLevels := strings.Split(pattern, Sep)
	topicLevels := strings.Split(topicStr, Sep)

	for i, p := range patternLevels {
		if p == MultiLevelWildcard {
			// '>' must be the last pattern level and matches one or
			// more remaining topic levels.
			return i == len(patternLevels)-1 && i < len(topicLevels)
		}
		if i >= len(topicLevels) {
			return false
		}
		if p == SingleLevelWildcard {
			continue
		}
		if p != topicLevels[i] {
			return false
		}
	}
	// No trailing '>': level counts must match exactly.
	return len(patternLevels) == len(topicLevels)
}

// ToRegexString renders a subscription pattern as the equivalent regular
// expression source, used by callers that need to combine matching with
// trailing-id extraction in one pass (spec §4.1, P3).
func ToRegexString(pattern string) string {
	levels := strings.Split(pattern, Sep)
	var b strings.Builder
	b.WriteString("^")
	for i, lvl := range levels {
		if i > 0 {
			b.WriteString("/")
		}
		switch lvl {
		case MultiLevelWildcard:
			b.WriteString(".+")
		case SingleLevelWildcard:
			b.WriteString("[^/]+")
		default:
			b.WriteString(regexEscape(lvl))
		}
	}
	b.WriteString("$")
	return b.String()
}

func regexEscape(s string) string {
	special := `.+*?()|[]{}^$\`
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
