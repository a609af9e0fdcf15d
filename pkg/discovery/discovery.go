// Package discovery tracks peer agent cards published on the discovery
// topic and exposes a read model to the Agent Task Core (spec §4.4).
//
// Grounded on the generic registry in
// github.com/kadirpekel/hector/pkg/registry (single-writer/many-reader
// RWMutex map) generalised with TTL-based visibility: entries older than
// ttl are hidden from reads but never deleted, matching spec §4.4
// "Eviction: cards older than ttl are hidden from reads but kept for
// observability."
package discovery

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/solacelabs/agentmesh/pkg/broker"
	"github.com/solacelabs/agentmesh/pkg/topic"
)

// Card is an agent's self-description published on the discovery topic
// (spec §3 Agent Card).
type Card struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Tools        []string       `json:"tools,omitempty"`
	InputModes   []string       `json:"inputModes,omitempty"`
	PeerAgents   []string       `json:"peerAgents,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type entry struct {
	card     Card
	lastSeen time.Time
}

// Registry holds the single-writer/many-reader view of peer agent cards.
// The writer is always the dispatch loop consuming the discovery
// subscription (spec §4.4 Concurrency).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	log     *slog.Logger
}

// NewRegistry constructs a Registry whose reads hide cards last seen
// more than ttl ago.
func NewRegistry(ttl time.Duration, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		ttl:     ttl,
		log:     log.With("component", "discovery.registry"),
	}
}

// Upsert records or refreshes a card by name, stamping last_seen to now
// (spec §4.4 "On each card: upsert by name, stamp last_seen").
func (r *Registry) Upsert(name string, card Card) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = &entry{card: card, lastSeen: time.Now()}
}

// Get returns the card for name if present and not TTL-expired.
func (r *Registry) Get(name string) (Card, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok || r.expired(e) {
		return Card{}, false
	}
	return e.card, true
}

// List returns all non-expired cards.
func (r *Registry) List() []Card {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Card, 0, len(r.entries))
	for _, e := range r.entries {
		if !r.expired(e) {
			out = append(out, e.card)
		}
	}
	return out
}

// FindByCapability returns non-expired cards advertising tag among their
// capabilities.
func (r *Registry) FindByCapability(tag string) []Card {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Card
	for _, e := range r.entries {
		if r.expired(e) {
			continue
		}
		for _, c := range e.card.Capabilities {
			if c == tag {
				out = append(out, e.card)
				break
			}
		}
	}
	return out
}

// ObservabilityDump returns every entry including expired ones, for
// diagnostics only (spec §4.4 "kept for observability").
func (r *Registry) ObservabilityDump() map[string]time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]time.Time, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.lastSeen
	}
	return out
}

func (r *Registry) expired(e *entry) bool {
	if r.ttl <= 0 {
		return false
	}
	return time.Since(e.lastSeen) > r.ttl
}

// Listener subscribes the discovery topic and feeds a Registry; it is
// the single writer goroutine referenced by spec §4.4's concurrency
// note.
type Listener struct {
	registry *Registry
	br       broker.Adapter
	builder  *topic.Builder
	log      *slog.Logger
}

// NewListener constructs a discovery Listener.
func NewListener(registry *Registry, br broker.Adapter, builder *topic.Builder, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{registry: registry, br: br, builder: builder, log: log.With("component", "discovery.listener")}
}

// Run subscribes the discovery wildcard and upserts cards until ctx is
// canceled. It is meant to run as one App Host component goroutine.
func (l *Listener) Run(ctx context.Context) error {
	sub, err := l.br.Subscribe(ctx, l.builder.DiscoverySubscription(), "discovery")
	if err != nil {
		return err
	}
	defer l.br.Unsubscribe(l.builder.DiscoverySubscription())

	prefix := l.builder.Namespace + "a2a/v1/discovery/agentcards/"
	for msg := range sub.Messages() {
		name, ok := topic.ExtractTrailingID(msg.Topic, prefix)
		if !ok {
			l.log.Warn("discovery: unparsable topic", "topic", msg.Topic)
			msg.Nack()
			continue
		}
		if !strings.HasPrefix(msg.Topic, prefix) {
			msg.Nack()
			continue
		}
		var card Card
		if err := json.Unmarshal(msg.Payload, &card); err != nil {
			l.log.Warn("discovery: malformed card", "agent", name, "error", err)
			msg.Nack()
			continue
		}
		l.registry.Upsert(name, card)
		msg.Ack()

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}
