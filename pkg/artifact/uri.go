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
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// URI renders the artifact:// form spec §4.6 defines:
// artifact://{scope}/{user}/{session}/{filename}?version=N — absent
// version means "latest".
func URI(scope, userID, sessionID, filename string, version int64) string {
	u := fmt.Sprintf("artifact://%s/%s/%s/%s",
		url.PathEscape(scope), url.PathEscape(userID), url.PathEscape(sessionID), url.PathEscape(filename))
	if version >= 0 {
		u += "?version=" + strconv.FormatInt(version, 10)
	}
	return u
}

// ParsedURI is the decoded form of an artifact:// reference.
type ParsedURI struct {
	Scope     string
	UserID    string
	SessionID string
	Filename  string
	// Version is -1 when absent from the URI (meaning "latest").
	Version int64
}

// ParseURI decodes an artifact:// reference (spec §6.2 "Artifact URI").
func ParseURI(raw string) (ParsedURI, error) {
	scheme, body, ok := strings.Cut(raw, "://")
	if !ok || scheme != "artifact" {
		return ParsedURI{}, fmt.Errorf("artifact: unsupported scheme %q", scheme)
	}

	// The path is split while still escaped, so a segment holding an
	// escaped "/" stays one segment.
	escaped, rawQuery, _ := strings.Cut(body, "?")
	scopeSeg, pathSeg, _ := strings.Cut(escaped, "/")
	rest := strings.Split(pathSeg, "/")
	if scopeSeg == "" || len(rest) != 3 {
		return ParsedURI{}, fmt.Errorf("artifact: malformed uri %q (want scope/user/session/filename)", raw)
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return ParsedURI{}, fmt.Errorf("artifact: parse uri: %w", err)
	}

	version := int64(-1)
	if v := query.Get("version"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return ParsedURI{}, fmt.Errorf("artifact: invalid version %q: %w", v, err)
		}
		version = parsed
	}

	scope, err1 := url.PathUnescape(scopeSeg)
	userID, err2 := url.PathUnescape(rest[0])
	sessionID, err3 := url.PathUnescape(rest[1])
	filename, err4 := url.PathUnescape(rest[2])
	if err := firstErr(err1, err2, err3, err4); err != nil {
		return ParsedURI{}, fmt.Errorf("artifact: decode uri segment: %w", err)
	}

	return ParsedURI{Scope: scope, UserID: userID, SessionID: sessionID, Filename: filename, Version: version}, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
