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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/solacelabs/agentmesh/pkg/agent"
)

// staleSessionMarker is the substring every backend's stale-session
// error carries, so callers that only see an opaque error from a
// non-Go backend (e.g. a driver-wrapped SQL error) can still recognize
// it with IsStaleSessionError.
const staleSessionMarker = "earlier than the update_time in the storage_session"

// StaleSessionError is returned by Service.AppendEvent when the
// caller's in-hand session is older than what storage currently holds
// (spec §4.5, "append_event fails with a stale-session error when the
// in-hand session's last_update_time is older than storage").
type StaleSessionError struct {
	SessionID string
}

func (e *StaleSessionError) Error() string {
	return fmt.Sprintf("session %s: last_update_time is %s", e.SessionID, staleSessionMarker)
}

// IsStaleSessionError reports whether err represents a stale-session
// condition, whether it is the typed *StaleSessionError or an opaque
// error carrying the marker substring (e.g. surfaced through a SQL
// driver).
func IsStaleSessionError(err error) bool {
	if err == nil {
		return false
	}
	var stale *StaleSessionError
	if errors.As(err, &stale) {
		return true
	}
	return contains(err.Error(), staleSessionMarker)
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// maxStaleRetries bounds the retry loop below (spec §4.5: "retry up to
// N=3, then raise").
const maxStaleRetries = 3

// AppendEventWithRetry appends event to session via svc, transparently
// re-fetching and retrying when the append fails with a stale-session
// error. It returns the session snapshot the event was ultimately
// appended against, so callers keep an up-to-date in-hand session for
// any further appends in the same turn.
func AppendEventWithRetry(ctx context.Context, svc Service, getReq *GetRequest, session Session, event *agent.Event) (Session, error) {
	current := session
	var lastErr error
	for attempt := 0; attempt < maxStaleRetries; attempt++ {
		err := svc.AppendEvent(ctx, current, event)
		if err == nil {
			return current, nil
		}
		if !IsStaleSessionError(err) {
			return current, err
		}
		lastErr = err

		resp, getErr := svc.Get(ctx, getReq)
		if getErr != nil {
			return current, fmt.Errorf("refresh after stale append: %w", getErr)
		}
		current = resp.Session
	}
	return current, fmt.Errorf("append_event: exceeded %d stale-session retries: %w", maxStaleRetries, lastErr)
}

// sessionView is the snapshot handed to callers by Get/Create/List. It
// freezes LastUpdateTime at the moment of the snapshot, moving it only
// when an AppendEvent through this view succeeds, so a caller holding it
// across an intervening write from another goroutine observes staleness
// on its next AppendEvent, exactly as a real backend's
// optimistic-concurrency check would (spec §4.5).
// State and Events reads still pass through to the live session.
type sessionView struct {
	live         *memorySession
	snapshotTime time.Time
}

func newSessionView(live *memorySession) *sessionView {
	return &sessionView{live: live, snapshotTime: live.LastUpdateTime()}
}

func (v *sessionView) ID() string           { return v.live.ID() }
func (v *sessionView) AppName() string      { return v.live.AppName() }
func (v *sessionView) UserID() string       { return v.live.UserID() }
func (v *sessionView) State() agent.State   { return v.live.State() }
func (v *sessionView) Events() agent.Events { return v.live.Events() }
func (v *sessionView) LastUpdateTime() time.Time {
	return v.snapshotTime
}

var _ Session = (*sessionView)(nil)
