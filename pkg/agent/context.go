// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"context"
	"iter"

	"github.com/a2aproject/a2a-go/a2a"
)

// State is a mutable key-value store for session state.
type State interface {
	Get(key string) (any, error)
	Set(key string, value any) error
	Delete(key string) error
	All() iter.Seq2[string, any]
}

// Events provides access to session event history.
type Events interface {
	All() iter.Seq[*Event]
	Len() int
	At(i int) *Event
}

// Artifacts provides artifact storage operations.
type Artifacts interface {
	Save(ctx context.Context, name string, part a2a.Part) (*ArtifactSaveResponse, error)
	List(ctx context.Context) (*ArtifactListResponse, error)
	Load(ctx context.Context, name string) (*ArtifactLoadResponse, error)
	LoadVersion(ctx context.Context, name string, version int) (*ArtifactLoadResponse, error)
}

// ArtifactSaveResponse is returned when saving an artifact.
type ArtifactSaveResponse struct {
	Name    string
	Version int64
}

// ArtifactListResponse is returned when listing artifacts.
type ArtifactListResponse struct {
	Artifacts []ArtifactInfo
}

// ArtifactInfo describes one stored artifact.
type ArtifactInfo struct {
	Name    string
	Version int64
}

// ArtifactLoadResponse is returned when loading an artifact.
type ArtifactLoadResponse struct {
	Name    string
	Part    a2a.Part
	Version int64
}
