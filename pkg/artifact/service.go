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

package artifact

import (
	"context"
	"fmt"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/solacelabs/agentmesh/pkg/agent"
)

// ScopeFunc resolves the current scope value (namespace or app name) on
// every call, rather than once at construction, so a per-call
// configuration flag — and test overrides of it — are honored (spec
// §4.6: "chosen by a per-call config flag checked at runtime").
type ScopeFunc func() string

// NamespaceScope and AppScope are convenience ScopeFuncs for the two
// fixed scopes spec §3 names ("Artifact Version" glossary entry).
func NamespaceScope(namespace string) ScopeFunc { return func() string { return namespace } }
func AppScope(appName string) ScopeFunc         { return func() string { return appName } }

// Service binds one (user, session) pair to a Store and implements
// agent.Artifacts, adding the agent-default read-through fallback and
// default-delete protection spec §4.6 requires. The scope itself is
// resolved per-call via scope, not fixed here.
type Service struct {
	store     Store
	scope     ScopeFunc
	userID    string
	sessionID string
}

// NewService constructs a Service bound to one (user, session) pair.
func NewService(store Store, scope ScopeFunc, userID, sessionID string) *Service {
	return &Service{store: store, scope: scope, userID: userID, sessionID: sessionID}
}

// Save stores part as a new version of name (spec §4.6 "save(part) →
// version").
func (s *Service) Save(ctx context.Context, name string, part a2a.Part) (*agent.ArtifactSaveResponse, error) {
	blob, err := partToBlob(part)
	if err != nil {
		return nil, fmt.Errorf("artifact: save %q: %w", name, err)
	}
	version, err := s.store.Put(ctx, s.scope(), s.userID, s.sessionID, name, blob)
	if err != nil {
		return nil, err
	}
	return &agent.ArtifactSaveResponse{Name: name, Version: version}, nil
}

// Load returns the latest version of name, falling back to the
// agent-default scope when the caller's own copy is absent (spec §4.6
// "load falls back to that scope when a per-user lookup misses").
func (s *Service) Load(ctx context.Context, name string) (*agent.ArtifactLoadResponse, error) {
	return s.loadVersion(ctx, name, -1)
}

// LoadVersion returns a specific version of name, with the same
// agent-default fallback as Load.
func (s *Service) LoadVersion(ctx context.Context, name string, version int) (*agent.ArtifactLoadResponse, error) {
	return s.loadVersion(ctx, name, int64(version))
}

func (s *Service) loadVersion(ctx context.Context, name string, version int64) (*agent.ArtifactLoadResponse, error) {
	scope := s.scope()
	blob, ok, err := s.store.Get(ctx, scope, s.userID, s.sessionID, name, version)
	if err != nil {
		return nil, err
	}
	if !ok && s.userID != DefaultUserID {
		blob, ok, err = s.store.Get(ctx, scope, DefaultUserID, s.sessionID, name, version)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, ErrNotFound
	}

	part, err := blobToPart(name, blob)
	if err != nil {
		return nil, err
	}
	resolvedVersion := version
	if resolvedVersion < 0 {
		resolvedVersion = int64(len(s.store.ListVersions(ctx, scope, s.userID, s.sessionID, name))) - 1
	}
	return &agent.ArtifactLoadResponse{Name: name, Version: resolvedVersion, Part: part}, nil
}

// List merges the caller's own artifacts with the agent-default set;
// the caller's own version wins on a name collision (spec §4.6
// "Default listings are merged into per-user listings (user wins on
// name collision)").
func (s *Service) List(ctx context.Context) (*agent.ArtifactListResponse, error) {
	scope := s.scope()

	seen := make(map[string]bool)
	var out []agent.ArtifactInfo

	for _, name := range s.store.ListKeys(ctx, scope, s.userID, s.sessionID) {
		versions := s.store.ListVersions(ctx, scope, s.userID, s.sessionID, name)
		out = append(out, agent.ArtifactInfo{Name: name, Version: int64(len(versions)) - 1})
		seen[name] = true
	}

	if s.userID != DefaultUserID {
		for _, name := range s.store.ListKeys(ctx, scope, DefaultUserID, s.sessionID) {
			if seen[name] {
				continue
			}
			versions := s.store.ListVersions(ctx, scope, DefaultUserID, s.sessionID, name)
			out = append(out, agent.ArtifactInfo{Name: name, Version: int64(len(versions)) - 1})
		}
	}

	return &agent.ArtifactListResponse{Artifacts: out}, nil
}

// ListVersions returns all stored version numbers for name under the
// caller's own scope (spec §4.6 "list_versions(filename)").
func (s *Service) ListVersions(ctx context.Context, name string) []int64 {
	return s.store.ListVersions(ctx, s.scope(), s.userID, s.sessionID, name)
}

// VersionMetadata describes a stored version without its payload
// (spec §4.6 "get_version_metadata()").
type VersionMetadata struct {
	MimeType  string
	Size      int64
	CreatedAt int64 // unix seconds
}

// GetVersionMetadata returns metadata for a specific version, without
// loading its bytes.
func (s *Service) GetVersionMetadata(ctx context.Context, name string, version int64) (VersionMetadata, error) {
	blob, ok, err := s.store.Get(ctx, s.scope(), s.userID, s.sessionID, name, version)
	if err != nil {
		return VersionMetadata{}, err
	}
	if !ok {
		return VersionMetadata{}, ErrNotFound
	}
	return VersionMetadata{MimeType: blob.MimeType, Size: blob.Size, CreatedAt: blob.CreatedAt.Unix()}, nil
}

// Delete removes all versions of name. Deleting a default artifact on
// behalf of a normal user is rejected — the user may instead shadow it
// with their own Save (spec §4.6).
func (s *Service) Delete(ctx context.Context, name string) error {
	if s.userID == DefaultUserID {
		return s.store.Delete(ctx, s.scope(), DefaultUserID, s.sessionID, name)
	}

	_, ownExists, err := s.store.Get(ctx, s.scope(), s.userID, s.sessionID, name, -1)
	if err != nil {
		return err
	}
	if ownExists {
		return s.store.Delete(ctx, s.scope(), s.userID, s.sessionID, name)
	}

	_, defaultExists, err := s.store.Get(ctx, s.scope(), DefaultUserID, s.sessionID, name, -1)
	if err != nil {
		return err
	}
	if defaultExists {
		return ErrDefaultDeleteDenied
	}
	return ErrNotFound
}

var _ agent.Artifacts = (*Service)(nil)
