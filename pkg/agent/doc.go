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

// Package agent carries the event and session-state vocabulary shared by
// pkg/session, pkg/artifact, and pkg/taskcore: Event (one turn of an
// agent conversation), State/Events/Artifacts (the narrow interfaces a
// session backend implements), and the Artifact response types. The
// agent-orchestration runtime these types originally belonged to
// (Agent, InvocationContext, the LLM/remote/workflow agent kinds) is not
// part of the mesh core, which drives tasks through pkg/taskcore.Driver
// instead.
package agent
