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
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
)

// VectorStore wraps a Store with chromem-go semantic indexing over
// textual artifact content, the vector-indexed Store variant (spec
// §4.6). It is grounded on pkg/vector.ChromemProvider's
// collection-per-namespace idiom: each scope gets its own chromem
// collection, and documents are upserted with a pre-computed embedding
// rather than a live one, since the collection's bound EmbeddingFunc
// is never called directly. The teacher's provider expects that
// pre-computed vector from an external embedder package; no embedder
// is wired into this module (see DESIGN.md), so VectorStore computes
// its own vectors with a deterministic local hash embedding instead.
type VectorStore struct {
	Store

	db   *chromem.DB
	mu   sync.Mutex
	cols map[string]*chromem.Collection
}

// NewVectorStore wraps backing with semantic indexing. Reads and
// non-indexing writes pass straight through to backing; Put and
// Delete additionally maintain the vector index.
func NewVectorStore(backing Store) *VectorStore {
	return &VectorStore{Store: backing, db: chromem.NewDB(), cols: make(map[string]*chromem.Collection)}
}

func (v *VectorStore) collection(scope string) (*chromem.Collection, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if col, ok := v.cols[scope]; ok {
		return col, nil
	}

	// Identity embedding function: callers always pass a pre-computed
	// vector, so this should never be invoked by chromem-go itself.
	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("artifact: vector index embedding func invoked, vectors must be pre-computed")
	}
	col, err := v.db.GetOrCreateCollection(scope, nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("artifact: create vector collection %q: %w", scope, err)
	}
	v.cols[scope] = col
	return col, nil
}

// Put stores blob via the backing Store and, when its content is text,
// indexes it for semantic search under scope.
func (v *VectorStore) Put(ctx context.Context, scope, userID, sessionID, filename string, blob Blob) (int64, error) {
	version, err := v.Store.Put(ctx, scope, userID, sessionID, filename, blob)
	if err != nil {
		return version, err
	}
	if !isIndexableText(blob.MimeType) {
		return version, nil
	}

	col, err := v.collection(scope)
	if err != nil {
		return version, err
	}
	doc := chromem.Document{
		ID:      documentID(userID, sessionID, filename, version),
		Content: string(blob.Data),
		Metadata: map[string]string{
			"user_id":    userID,
			"session_id": sessionID,
			"filename":   filename,
			"version":    fmt.Sprint(version),
		},
		Embedding: hashEmbed(blob.Data),
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return version, fmt.Errorf("artifact: index document: %w", err)
	}
	return version, nil
}

// Delete removes all versions of filename from the backing Store and
// drops any indexed documents for it under scope.
func (v *VectorStore) Delete(ctx context.Context, scope, userID, sessionID, filename string) error {
	if err := v.Store.Delete(ctx, scope, userID, sessionID, filename); err != nil {
		return err
	}

	col, err := v.collection(scope)
	if err != nil {
		return err
	}
	filter := map[string]string{"user_id": userID, "session_id": sessionID, "filename": filename}
	if err := col.Delete(ctx, filter, nil); err != nil {
		return fmt.Errorf("artifact: unindex document: %w", err)
	}
	return nil
}

// SearchHit is one semantic-search result.
type SearchHit struct {
	Filename string
	Version  int64
	Score    float32
}

// Search returns up to topK artifacts under (scope, userID, sessionID)
// whose indexed content is most similar to query.
func (v *VectorStore) Search(ctx context.Context, scope, userID, sessionID, query string, topK int) ([]SearchHit, error) {
	col, err := v.collection(scope)
	if err != nil {
		return nil, err
	}

	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}

	filter := map[string]string{"user_id": userID, "session_id": sessionID}
	results, err := col.QueryEmbedding(ctx, hashEmbed([]byte(query)), topK, filter, nil)
	if err != nil {
		return nil, fmt.Errorf("artifact: semantic search: %w", err)
	}

	out := make([]SearchHit, 0, len(results))
	for _, r := range results {
		var version int64
		fmt.Sscanf(r.Metadata["version"], "%d", &version)
		out = append(out, SearchHit{Filename: r.Metadata["filename"], Version: version, Score: r.Similarity})
	}
	return out, nil
}

func documentID(userID, sessionID, filename string, version int64) string {
	return fmt.Sprintf("%s/%s/%s#%d", userID, sessionID, filename, version)
}

func isIndexableText(mimeType string) bool {
	return mimeType == "" || strings.HasPrefix(mimeType, "text/") || mimeType == "application/json"
}

const hashEmbedDims = 256

// hashEmbed produces a deterministic bag-of-words hash embedding: each
// whitespace-separated token is hashed into one of hashEmbedDims
// buckets, giving a normalized term-frequency vector. It trades
// semantic accuracy for requiring no external embedding provider.
func hashEmbed(data []byte) []float32 {
	vec := make([]float32, hashEmbedDims)
	for _, tok := range strings.Fields(strings.ToLower(string(data))) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%hashEmbedDims]++
	}

	var sumSq float64
	for _, x := range vec {
		sumSq += float64(x * x)
	}
	if sumSq == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

var _ Store = (*VectorStore)(nil)
