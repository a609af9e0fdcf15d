package session

import (
	"context"
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solacelabs/agentmesh/pkg/agent"
)

func TestFilteringEvents_HidesEventsBeforeCompactionCursor(t *testing.T) {
	svc := InMemoryService()
	ctx := context.Background()

	createResp, err := svc.Create(ctx, &CreateRequest{AppName: "app", UserID: "u1"})
	require.NoError(t, err)
	session := createResp.Session

	base := time.Now().Add(-time.Hour)
	e1 := agent.NewEvent("inv-1")
	e1.Timestamp = base
	e2 := agent.NewEvent("inv-1")
	e2.Timestamp = base.Add(time.Minute)
	require.NoError(t, svc.AppendEvent(ctx, session, e1))
	require.NoError(t, svc.AppendEvent(ctx, session, e2))

	compaction := agent.NewEvent("inv-1")
	compaction.Timestamp = base.Add(2 * time.Minute)
	compaction.Actions.Compaction = &agent.CompactionMarker{
		StartTimestamp:   base,
		EndTimestamp:     base.Add(2 * time.Minute),
		CompactedContent: "summary of e1, e2",
	}
	require.NoError(t, svc.AppendEvent(ctx, session, compaction))

	e3 := agent.NewEvent("inv-1")
	e3.Timestamp = base.Add(3 * time.Minute)
	require.NoError(t, svc.AppendEvent(ctx, session, e3))

	getResp, err := svc.Get(ctx, &GetRequest{AppName: "app", UserID: "u1", SessionID: session.ID()})
	require.NoError(t, err)

	var visible []*agent.Event
	for ev := range getResp.Session.Events().All() {
		visible = append(visible, ev)
	}
	require.Len(t, visible, 2, "e1 and e2 must be suppressed; compaction cursor and e3 remain")
	assert.NotNil(t, visible[0].Actions.Compaction)
	assert.Equal(t, e3.ID, visible[1].ID)

	var raw int
	ms := session.(*sessionView).live
	for range ms.RawEvents().All() {
		raw++
	}
	assert.Equal(t, 4, raw, "raw on-disk log must retain all events")
}

// TestFilteringEvents_Property checks P5: for any append sequence, the
// filtered view never contains a non-compaction event strictly before
// the latest compaction's end_timestamp.
func TestFilteringEvents_Property(t *testing.T) {
	prop := func(gapsMinutes []uint8, compactAt uint8) bool {
		if len(gapsMinutes) == 0 {
			return true
		}
		base := time.Now().Add(-24 * time.Hour)
		raw := &memoryEvents{}
		var cursor time.Time = base
		for i, g := range gapsMinutes {
			cursor = cursor.Add(time.Duration(g%30) * time.Minute)
			ev := agent.NewEvent("inv")
			ev.Timestamp = cursor
			if int(compactAt)%len(gapsMinutes) == i {
				ev.Actions.Compaction = &agent.CompactionMarker{
					StartTimestamp: base,
					EndTimestamp:   cursor,
				}
			}
			raw.append(ev)
		}

		view := &filteringEvents{raw: raw}
		cutoff, ok := latestCompactionCutoff(func() []*agent.Event {
			var all []*agent.Event
			for ev := range raw.All() {
				all = append(all, ev)
			}
			return all
		}())
		if !ok {
			return true
		}
		for ev := range view.All() {
			if ev.Actions.Compaction == nil && ev.Timestamp.Before(cutoff) {
				return false
			}
		}
		return true
	}
	if err := quick.Check(prop, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}
