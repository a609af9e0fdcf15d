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

// Package artifact implements the scoped artifact blob store (spec
// §4.6): immutable versioned blobs keyed by (scope, user, session,
// filename, version), with agent-default read-through fallback and an
// artifact:// URI scheme.
package artifact

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultUserID is the reserved user id marking "agent defaults" (spec
// §4.6 "Agent-default artifacts"). A load that misses the caller's own
// (scope, user, session, filename) falls back to this user under the
// same scope and session.
const DefaultUserID = "__agent_default__"

// Key identifies one artifact version.
type Key struct {
	Scope     string
	UserID    string
	SessionID string
	Filename  string
	Version   int64
}

// Blob is one immutable stored version.
type Blob struct {
	Data      []byte
	MimeType  string
	Size      int64
	CreatedAt time.Time
}

// ErrNotFound is returned when a (filename[, version]) lookup misses
// entirely, including after the agent-default fallback.
var ErrNotFound = fmt.Errorf("artifact: not found")

// ErrDefaultDeleteDenied is returned when a non-default user attempts
// to delete an artifact owned by DefaultUserID (spec §4.6: "delete of a
// default artifact on behalf of a normal user is rejected").
var ErrDefaultDeleteDenied = fmt.Errorf("artifact: cannot delete agent-default artifact")

// Store is the low-level, scope-agnostic blob backend. A Service (in
// service.go) binds one (scope, user, session) tuple and layers the
// agent-default fallback and URI scheme on top.
type Store interface {
	// Put appends a new version, returning the version number assigned
	// (versions are 0-based, monotonically increasing per key).
	Put(ctx context.Context, scope, userID, sessionID, filename string, blob Blob) (int64, error)

	// Get returns a specific version, or the latest if version < 0.
	Get(ctx context.Context, scope, userID, sessionID, filename string, version int64) (Blob, bool, error)

	// ListKeys returns distinct filenames stored under (scope, user, session).
	ListKeys(ctx context.Context, scope, userID, sessionID string) []string

	// ListVersions returns all version numbers stored for filename, ascending.
	ListVersions(ctx context.Context, scope, userID, sessionID, filename string) []int64

	// Delete removes all versions of filename under (scope, user, session).
	Delete(ctx context.Context, scope, userID, sessionID, filename string) error
}

type memKey struct {
	scope, userID, sessionID, filename string
}

// MemoryStore is an in-process Store, the dev-mode backend (grounded on
// the teacher's in-memory map-of-mutex-guarded-slices idiom used by
// pkg/session's memoryEvents).
type MemoryStore struct {
	mu   sync.RWMutex
	data map[memKey][]Blob
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[memKey][]Blob)}
}

func (s *MemoryStore) key(scope, userID, sessionID, filename string) memKey {
	return memKey{scope: scope, userID: userID, sessionID: sessionID, filename: filename}
}

func (s *MemoryStore) Put(ctx context.Context, scope, userID, sessionID, filename string, blob Blob) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.key(scope, userID, sessionID, filename)
	blob.CreatedAt = time.Now()
	blob.Size = int64(len(blob.Data))
	s.data[k] = append(s.data[k], blob)
	return int64(len(s.data[k]) - 1), nil
}

func (s *MemoryStore) Get(ctx context.Context, scope, userID, sessionID, filename string, version int64) (Blob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.data[s.key(scope, userID, sessionID, filename)]
	if len(versions) == 0 {
		return Blob{}, false, nil
	}
	if version < 0 {
		return versions[len(versions)-1], true, nil
	}
	if version >= int64(len(versions)) {
		return Blob{}, false, nil
	}
	return versions[version], true, nil
}

func (s *MemoryStore) ListKeys(ctx context.Context, scope, userID, sessionID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for k, versions := range s.data {
		if len(versions) == 0 {
			continue
		}
		if k.scope == scope && k.userID == userID && k.sessionID == sessionID {
			out = append(out, k.filename)
		}
	}
	sort.Strings(out)
	return out
}

func (s *MemoryStore) ListVersions(ctx context.Context, scope, userID, sessionID, filename string) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.data[s.key(scope, userID, sessionID, filename)]
	out := make([]int64, len(versions))
	for i := range versions {
		out[i] = int64(i)
	}
	return out
}

func (s *MemoryStore) Delete(ctx context.Context, scope, userID, sessionID, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, s.key(scope, userID, sessionID, filename))
	return nil
}

var _ Store = (*MemoryStore)(nil)
