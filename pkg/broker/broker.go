// Package broker abstracts the ordered pub/sub contract every mesh
// component is built against (spec §4.2 Broker Adapter).
//
// No concrete broker client library exists anywhere in the retrieval
// pack (spec.md itself lists "concrete broker client libraries" as an
// out-of-scope external collaborator), so this package defines the
// interface the rest of the mesh codes against plus a dev-mode
// in-process implementation — the only implementation the spec requires
// the core to ship. A production binary wires a real client (Solace,
// NATS, MQTT, ...) behind the same Adapter interface; cmd/meshd only
// ever constructs the dev-mode one.
package broker

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/solacelabs/agentmesh/pkg/observability"
	"github.com/solacelabs/agentmesh/pkg/topic"
)

// Message is one delivery on a subscription (spec §4.2: "{topic, payload,
// user_properties, ack(), nack()}").
type Message struct {
	Topic          string
	Payload        []byte
	UserProperties map[string]any

	ackFn  func()
	nackFn func()
}

// Ack acknowledges successful processing.
func (m *Message) Ack() {
	if m.ackFn != nil {
		m.ackFn()
	}
}

// Nack signals failed processing; a real broker redelivers, the dev
// broker simply drops (there is no durable queue to redeliver from).
func (m *Message) Nack() {
	if m.nackFn != nil {
		m.nackFn()
	}
}

// Subscription is a live binding to a topic pattern.
type Subscription struct {
	Pattern string
	ch      chan *Message
}

// Messages returns an iterator over deliveries, in the idiom of the
// teacher's iter.Seq2 streaming tools (pkg/tool.StreamingTool). The
// iterator ends when the subscription is closed.
func (s *Subscription) Messages() iter.Seq[*Message] {
	return func(yield func(*Message) bool) {
		for m := range s.ch {
			if !yield(m) {
				return
			}
		}
	}
}

// Adapter is the contract every mesh component is coded against
// (spec §4.2).
type Adapter interface {
	// Publish is fire-and-forget and safe to call from any goroutine.
	Publish(ctx context.Context, topicStr string, payload []byte, userProps map[string]any) error

	// Subscribe binds queueName (durable or temporary, chosen by the App
	// Host) to pattern and returns a stream of matching messages.
	Subscribe(ctx context.Context, pattern, queueName string) (*Subscription, error)

	// Unsubscribe tears down a prior binding.
	Unsubscribe(pattern string) error

	// IsConnected is authoritative for App.IsReady() (spec §4.3).
	IsConnected() bool

	Close() error
}

// boundSubscription pairs a live Subscription with the queue name it was
// bound under. Publish matches the subscription's pattern against each
// published topic with topic.Matches.
type boundSubscription struct {
	sub      *Subscription
	queue    string
	backlog  int
}

// MemoryBroker is the dev-mode in-process Adapter: always connected,
// ordered per-subscription delivery, no redelivery on Nack.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[string]*boundSubscription

	// backlog bounds each subscription's channel; a full channel blocks
	// the publisher rather than drop, matching the spec's "blocked
	// handlers must NACK rather than silently drop" backpressure
	// contract one level up (the App Host's internal queue NACKs the
	// broker message when its own queue is full; the broker channel
	// here only needs to apply backpressure, not originate NACKs).
	backlog int

	// metrics is optional; a nil value records nothing (spec §4.14
	// "events received per topic").
	metrics observability.Recorder

	closed bool
}

// NewMemoryBroker constructs a dev-mode broker. backlog is the per-
// subscription channel capacity; 0 uses a sensible default.
func NewMemoryBroker(backlog int) *MemoryBroker {
	if backlog <= 0 {
		backlog = 256
	}
	return &MemoryBroker{
		subs:    make(map[string]*boundSubscription),
		backlog: backlog,
	}
}

// SetMetrics binds a Recorder used to count deliveries by topic. Safe to
// call at any time; a nil recorder (the default) disables counting.
func (b *MemoryBroker) SetMetrics(m observability.Recorder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = m
}

func (b *MemoryBroker) Publish(ctx context.Context, topicStr string, payload []byte, userProps map[string]any) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("broker: publish after close")
	}

	for pattern, bound := range b.subs {
		if !topic.Matches(pattern, topicStr) {
			continue
		}
		msg := &Message{
			Topic:          topicStr,
			Payload:        payload,
			UserProperties: userProps,
		}
		select {
		case bound.sub.ch <- msg:
			if b.metrics != nil {
				b.metrics.RecordEventReceived(topicStr)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, pattern, queueName string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("broker: subscribe after close")
	}
	if _, exists := b.subs[pattern]; exists {
		return nil, fmt.Errorf("broker: pattern %q already bound", pattern)
	}

	sub := &Subscription{Pattern: pattern, ch: make(chan *Message, b.backlog)}
	b.subs[pattern] = &boundSubscription{sub: sub, queue: queueName, backlog: b.backlog}
	return sub, nil
}

func (b *MemoryBroker) Unsubscribe(pattern string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	bound, exists := b.subs[pattern]
	if !exists {
		return fmt.Errorf("broker: pattern %q not bound", pattern)
	}
	close(bound.sub.ch)
	delete(b.subs, pattern)
	return nil
}

// IsConnected always reports true: dev mode has no network link to lose
// (spec §4.2 Health / §4.3).
func (b *MemoryBroker) IsConnected() bool { return true }

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for pattern, bound := range b.subs {
		close(bound.sub.ch)
		delete(b.subs, pattern)
	}
	b.closed = true
	return nil
}
