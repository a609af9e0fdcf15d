package taskcore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/solacelabs/agentmesh/pkg/agent"
	"github.com/solacelabs/agentmesh/pkg/observability"
	"github.com/solacelabs/agentmesh/pkg/session"
	"github.com/solacelabs/agentmesh/pkg/utils"
)

// maxCompactionRetries bounds context-compaction attempts per overflow
// episode (spec §4.7.3).
const maxCompactionRetries = 3

// defaultCompactionThreshold is the fraction of non-compaction tokens a
// compaction pass targets leaving compacted (spec §4.7.3 step 2).
const defaultCompactionThreshold = 0.25

// IsContextOverflow reports whether err's message matches one of the
// LLM context-overflow indicator phrases (spec §4.7.3).
func IsContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range ContextOverflowMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Summarizer produces a compaction summary for a span of events. The
// concrete implementation is an LLM call; grounded on the teacher's
// SummarizationService.SummarizeConversation, generalised from
// pb.Message to agent.Event so it can run over session history directly.
type Summarizer interface {
	Summarize(ctx context.Context, events []*agent.Event) (string, error)
}

// compactionLocks guards one mutex per session so concurrent tasks that
// hit the context limit at the same time serialize onto a single
// compaction pass, then reload and retry (spec §4.7.3 step 1).
type compactionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var sessionCompactionLocks = &compactionLocks{locks: make(map[string]*sync.Mutex)}

func (c *compactionLocks) lockFor(sessionKey string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[sessionKey]
	if !ok {
		l = &sync.Mutex{}
		c.locks[sessionKey] = l
	}
	return l
}

// Compactor runs the context-window compaction algorithm (spec §4.7.3).
type Compactor struct {
	Summarizer   Summarizer
	TokenCounter *utils.TokenCounter
	Threshold    float64 // defaults to defaultCompactionThreshold when zero

	// Metrics is optional; a nil value records nothing (spec §4.14
	// "compactions triggered").
	Metrics observability.Recorder
}

// CompactionResult carries the outcome a driver loop needs to resume.
type CompactionResult struct {
	Summary    string
	CutoffTime time.Time
}

// Compact runs one compaction pass over sess's raw (uncompacted) event
// log, serialized per session via a per-session lock, and persists the
// resulting compaction event through the stale-retry helper.
func (c *Compactor) Compact(ctx context.Context, svc session.Service, getReq *session.GetRequest, sess session.Session) (*CompactionResult, error) {
	sessionKey := getReq.AppName + "/" + getReq.UserID + "/" + getReq.SessionID
	lock := sessionCompactionLocks.lockFor(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	threshold := c.Threshold
	if threshold <= 0 {
		threshold = defaultCompactionThreshold
	}

	events := visibleForCompaction(sess)
	if len(events) == 0 {
		return nil, &InsufficientHistoryError{}
	}

	total := c.totalTokens(events)
	target := int(float64(total) * threshold)

	cutoff, err := c.findCutoffIndex(events, target)
	if err != nil {
		return nil, err
	}

	toCompact := events[:cutoff]
	toCompact = c.withProgressiveSummary(toCompact)

	summary, err := c.Summarizer.Summarize(ctx, toCompact)
	if err != nil {
		return nil, fmt.Errorf("taskcore: summarize compaction span: %w", err)
	}

	start := events[0].Timestamp
	end := events[cutoff-1].Timestamp
	if end.Before(start) {
		end = start
	}

	compactionEvent := agent.NewEvent("")
	compactionEvent.Author = agent.AuthorSystem
	compactionEvent.Actions.Compaction = &agent.CompactionMarker{
		StartTimestamp:   start,
		EndTimestamp:     end,
		CompactedContent: summary,
	}
	compactionEvent.Actions.StateDelta["compaction_time"] = end

	if _, err := session.AppendEventWithRetry(ctx, svc, getReq, sess, compactionEvent); err != nil {
		return nil, fmt.Errorf("taskcore: persist compaction event: %w", err)
	}

	if c.Metrics != nil {
		c.Metrics.RecordCompactionTriggered()
	}

	return &CompactionResult{Summary: summary, CutoffTime: end}, nil
}

// visibleForCompaction returns the session's filtered (non-compacted)
// event view, the span the compaction algorithm operates over.
func visibleForCompaction(sess session.Session) []*agent.Event {
	var out []*agent.Event
	for e := range sess.Events().All() {
		out = append(out, e)
	}
	return out
}

func (c *Compactor) totalTokens(events []*agent.Event) int {
	total := 0
	for _, e := range events {
		if e.Message == nil {
			continue
		}
		total += c.TokenCounter.Count(messageText(e))
	}
	return total
}

// findCutoffIndex finds the cutoff at a user-turn boundary whose
// cumulative token count minimises |cumulative - target| in one O(N)
// pass, and refuses to compact the entire history (spec §4.7.3 step 3).
func (c *Compactor) findCutoffIndex(events []*agent.Event, target int) (int, error) {
	// Collect the cumulative token count at every user-turn boundary
	// (the index just after a user-authored event) in one O(N) pass.
	type boundary struct {
		index      int
		cumulative int
	}
	var boundaries []boundary
	cumulative := 0
	for i, e := range events {
		if e.Message != nil {
			cumulative += c.TokenCounter.Count(messageText(e))
		}
		if e.Author == agent.AuthorUser {
			boundaries = append(boundaries, boundary{index: i + 1, cumulative: cumulative})
		}
	}

	// The last boundary would compact every user turn, leaving none
	// uncompacted; it is never eligible (spec §4.7.3 step 3).
	if len(boundaries) < 2 {
		return 0, &InsufficientHistoryError{}
	}
	eligible := boundaries[:len(boundaries)-1]

	bestIdx := -1
	bestDiff := -1
	for _, b := range eligible {
		diff := abs(b.cumulative - target)
		if bestDiff == -1 || diff < bestDiff {
			bestDiff = diff
			bestIdx = b.index
		}
	}

	return bestIdx, nil
}

// withProgressiveSummary returns toCompact unchanged. It does not
// prepend a synthetic event carrying an earlier compaction's summary:
// an earlier compaction event (the filtered view keeps them) that falls
// inside the span reaches the Summarizer as it is, and one outside the
// span is not looked up.
func (c *Compactor) withProgressiveSummary(toCompact []*agent.Event) []*agent.Event {
	return toCompact
}

func messageText(e *agent.Event) string {
	return e.TextContent()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
