// Package embed implements the inline «type:expression» template
// resolver (spec §4.13): a recursive, phase-partitioned evaluator with
// pluggable per-type handlers and out-of-band "signal" emission.
package embed

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// delimiterPattern is the default non-greedy «type:expr» matcher. It
// tolerates surrounding text but not nested delimiters — a second «
// before the closing » ends the match at the first ».
var delimiterPattern = regexp.MustCompile(`«([a-zA-Z0-9_]+):([^«»]*)»`)

// Phase partitions a registered type as early (producer-side, before
// send) or late (gateway-side, on receive) (spec §4.13).
type Phase int

const (
	PhaseEarly Phase = iota
	PhaseLate
)

// Signal is a non-text side effect a handler bubbles up, interpreted by
// the caller (e.g. the gateway emitting a status update).
type Signal struct {
	Index int
	Kind  string
	Data  any
}

// Handler resolves one «type:expr» occurrence against ctx, optionally
// producing replacement text and/or a signal. A handler that returns an
// empty text and no signal removes the embed from the output.
type Handler func(ctx context.Context, expr string, rc *Context) (text string, signal *Signal, err error)

// Context carries the ambient state handlers may need (session,
// artifact service, user/app identifiers); callers populate whichever
// fields their registered handlers require.
type Context struct {
	AppName   string
	UserID    string
	SessionID string
	Extra     map[string]any
}

type registration struct {
	phase   Phase
	handler Handler
}

// Resolver holds the type->handler registry and recursion bound.
type Resolver struct {
	handlers map[string]registration
	maxDepth int
}

// NewResolver constructs a Resolver with the given recursive-pass depth
// bound (spec §4.13 "up to a configured max depth").
func NewResolver(maxDepth int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	return &Resolver{handlers: make(map[string]registration), maxDepth: maxDepth}
}

// Register binds a handler to a type name under the given phase.
func (r *Resolver) Register(typeName string, phase Phase, handler Handler) {
	r.handlers[typeName] = registration{phase: phase, handler: handler}
}

// IsContainer reports whether text has a text-like MIME type and
// contains an opening delimiter, i.e. must be recursively scanned
// (spec §4.13).
func IsContainer(mimeType, text string) bool {
	if !strings.HasPrefix(mimeType, "text/") && mimeType != "application/json" {
		return false
	}
	return strings.Contains(text, "«")
}

// resolve runs every registered handler whose phase matches the
// requested one over text, recursively up to maxDepth, and returns the
// substituted text plus any signals raised, in occurrence order.
func (r *Resolver) resolve(ctx context.Context, phase Phase, text string, rc *Context) (string, []Signal, error) {
	var signals []Signal
	current := text

	for depth := 0; depth < r.maxDepth; depth++ {
		matches := delimiterPattern.FindAllStringSubmatchIndex(current, -1)
		if len(matches) == 0 {
			return current, signals, nil
		}

		changed := false
		var b strings.Builder
		last := 0
		for i, m := range matches {
			typeName := current[m[2]:m[3]]
			expr := current[m[4]:m[5]]

			reg, ok := r.handlers[typeName]
			if !ok || reg.phase != phase {
				continue
			}

			replacement, signal, err := reg.handler(ctx, expr, rc)
			if err != nil {
				return "", signals, fmt.Errorf("embed: resolve %q: %w", typeName, err)
			}

			b.WriteString(current[last:m[0]])
			b.WriteString(replacement)
			last = m[1]
			changed = true

			if signal != nil {
				signal.Index = i
				signals = append(signals, *signal)
			}
		}
		b.WriteString(current[last:])
		current = b.String()

		if !changed {
			return current, signals, nil
		}
	}
	return current, signals, nil
}

// ResolveEarly runs only early-phase handlers (producer-side, before
// send).
func (r *Resolver) ResolveEarly(ctx context.Context, text string, rc *Context) (string, []Signal, error) {
	return r.resolve(ctx, PhaseEarly, text, rc)
}

// ResolveLate runs only late-phase handlers (gateway-side, on receive).
// Handlers receive an empty Context and signals are discarded; the
// taskcore streaming buffer uses this form.
func (r *Resolver) ResolveLate(text string) (string, error) {
	resolved, _, err := r.resolve(context.Background(), PhaseLate, text, &Context{})
	return resolved, err
}

// ResolveLateWithSignals runs late-phase handlers with caller-supplied
// ctx/rc and also returns any signals raised, for callers that must act
// on them (e.g. the gateway converting SIGNAL_STATUS_UPDATE signals
// into status events, spec §4.8.4).
func (r *Resolver) ResolveLateWithSignals(ctx context.Context, text string, rc *Context) (string, []Signal, error) {
	return r.resolve(ctx, PhaseLate, text, rc)
}
