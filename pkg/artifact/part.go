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
	"encoding/json"
	"fmt"

	"github.com/a2aproject/a2a-go/a2a"
)

const (
	mimeTextPlain = "text/plain"
	mimeJSON      = "application/json"
)

// partToBlob converts an A2A message part to a storable Blob. Supports
// the three part kinds used across the codebase (TextPart, FilePart,
// DataPart); anything else is rejected rather than silently dropped.
func partToBlob(part a2a.Part) (Blob, error) {
	switch p := part.(type) {
	case a2a.TextPart:
		return Blob{Data: []byte(p.Text), MimeType: mimeTextPlain}, nil
	case a2a.FilePart:
		mime := p.MimeType
		if mime == "" {
			mime = "application/octet-stream"
		}
		return Blob{Data: p.Bytes, MimeType: mime}, nil
	case a2a.DataPart:
		b, err := json.Marshal(p.Data)
		if err != nil {
			return Blob{}, fmt.Errorf("marshal data part: %w", err)
		}
		return Blob{Data: b, MimeType: mimeJSON}, nil
	default:
		return Blob{}, fmt.Errorf("unsupported part type %T", part)
	}
}

// blobToPart converts a stored Blob back to an A2A part, matching it
// to the kind partToBlob originally stored it as via MimeType.
func blobToPart(name string, blob Blob) (a2a.Part, error) {
	switch blob.MimeType {
	case mimeTextPlain:
		return a2a.TextPart{Text: string(blob.Data)}, nil
	case mimeJSON:
		var data map[string]any
		if err := json.Unmarshal(blob.Data, &data); err != nil {
			return a2a.DataPart{Data: map[string]any{"raw": string(blob.Data)}}, nil
		}
		return a2a.DataPart{Data: data}, nil
	default:
		return a2a.FilePart{Name: name, MimeType: blob.MimeType, Bytes: blob.Data}, nil
	}
}
