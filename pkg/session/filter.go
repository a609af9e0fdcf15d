// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"iter"
	"time"

	"github.com/solacelabs/agentmesh/pkg/agent"
)

// filteringEvents is the read view returned by Session.Events (spec
// §4.5 "Filtering read view"). It recomputes the visible slice from the
// raw append-only log on every read: the latest event carrying
// Actions.Compaction is the "compaction cursor", and every non-compaction
// event strictly before that cursor's EndTimestamp is suppressed. The
// raw log on disk (memoryEvents) is never mutated by this view.
type filteringEvents struct {
	raw *memoryEvents
}

func (f *filteringEvents) visible() []*agent.Event {
	var all []*agent.Event
	for ev := range f.raw.All() {
		all = append(all, ev)
	}

	cutoff, ok := latestCompactionCutoff(all)
	if !ok {
		return all
	}

	out := make([]*agent.Event, 0, len(all))
	for _, ev := range all {
		if ev.Actions.Compaction != nil {
			out = append(out, ev)
			continue
		}
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// latestCompactionCutoff scans events in append order and returns the
// EndTimestamp of the last one carrying a compaction marker.
func latestCompactionCutoff(events []*agent.Event) (cutoff time.Time, ok bool) {
	for _, ev := range events {
		if ev.Actions.Compaction != nil {
			cutoff = ev.Actions.Compaction.EndTimestamp
			ok = true
		}
	}
	return cutoff, ok
}

func (f *filteringEvents) All() iter.Seq[*agent.Event] {
	return func(yield func(*agent.Event) bool) {
		for _, ev := range f.visible() {
			if !yield(ev) {
				return
			}
		}
	}
}

func (f *filteringEvents) Len() int {
	return len(f.visible())
}

func (f *filteringEvents) At(i int) *agent.Event {
	v := f.visible()
	if i < 0 || i >= len(v) {
		return nil
	}
	return v[i]
}

var _ agent.Events = (*filteringEvents)(nil)
