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
	"time"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/solacelabs/agentmesh/pkg/agent"
)

// eventDTO mirrors agent.Event for JSON persistence, dropping the
// OnPersisted callback (not serializable, and meaningless once an
// event has round-tripped through storage).
type eventDTO struct {
	ID                 string                  `json:"id"`
	Timestamp          time.Time               `json:"timestamp"`
	InvocationID       string                  `json:"invocation_id"`
	Branch             string                  `json:"branch,omitempty"`
	Author             string                  `json:"author"`
	Message            *a2a.Message            `json:"message,omitempty"`
	Actions            agent.EventActions      `json:"actions"`
	LongRunningToolIDs []string                `json:"long_running_tool_ids,omitempty"`
	Partial            bool                    `json:"partial,omitempty"`
	TurnComplete       bool                    `json:"turn_complete,omitempty"`
	Interrupted        bool                    `json:"interrupted,omitempty"`
	ErrorCode          string                  `json:"error_code,omitempty"`
	ErrorMessage       string                  `json:"error_message,omitempty"`
	Thinking           *agent.ThinkingState    `json:"thinking,omitempty"`
	ToolCalls          []agent.ToolCallState   `json:"tool_calls,omitempty"`
	ToolResults        []agent.ToolResultState `json:"tool_results,omitempty"`
	CustomMetadata     map[string]any          `json:"custom_metadata,omitempty"`
}

func eventToDTO(e *agent.Event) (*eventDTO, error) {
	return &eventDTO{
		ID:                 e.ID,
		Timestamp:          e.Timestamp,
		InvocationID:       e.InvocationID,
		Branch:             e.Branch,
		Author:             e.Author,
		Message:            e.Message,
		Actions:            e.Actions,
		LongRunningToolIDs: e.LongRunningToolIDs,
		Partial:            e.Partial,
		TurnComplete:       e.TurnComplete,
		Interrupted:        e.Interrupted,
		ErrorCode:          e.ErrorCode,
		ErrorMessage:       e.ErrorMessage,
		Thinking:           e.Thinking,
		ToolCalls:          e.ToolCalls,
		ToolResults:        e.ToolResults,
		CustomMetadata:     e.CustomMetadata,
	}, nil
}

func (d *eventDTO) toEvent() *agent.Event {
	return &agent.Event{
		ID:                 d.ID,
		Timestamp:          d.Timestamp,
		InvocationID:       d.InvocationID,
		Branch:             d.Branch,
		Author:             d.Author,
		Message:            d.Message,
		Actions:            d.Actions,
		LongRunningToolIDs: d.LongRunningToolIDs,
		Partial:            d.Partial,
		TurnComplete:       d.TurnComplete,
		Interrupted:        d.Interrupted,
		ErrorCode:          d.ErrorCode,
		ErrorMessage:       d.ErrorMessage,
		Thinking:           d.Thinking,
		ToolCalls:          d.ToolCalls,
		ToolResults:        d.ToolResults,
		CustomMetadata:     d.CustomMetadata,
	}
}
