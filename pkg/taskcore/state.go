// Package taskcore drives one task end-to-end: the per-task state
// machine, the LLM+tools+peers driver loop, context-window compaction,
// peer delegation with parallel aggregation, and cancellation fan-out
// (spec §4.7, the Agent Task Core).
package taskcore

import (
	"fmt"

	"github.com/solacelabs/agentmesh/pkg/protocol"
)

// validTransitions enumerates the A2A task state machine (spec §4.7.1):
// submitted -> working <-> input_required -> {completed, failed, canceled}.
var validTransitions = map[protocol.TaskState][]protocol.TaskState{
	protocol.TaskStateSubmitted: {
		protocol.TaskStateWorking,
		protocol.TaskStateFailed,
		protocol.TaskStateCanceled,
	},
	protocol.TaskStateWorking: {
		protocol.TaskStateCompleted,
		protocol.TaskStateFailed,
		protocol.TaskStateCanceled,
		protocol.TaskStateInputRequired,
	},
	protocol.TaskStateInputRequired: {
		protocol.TaskStateWorking,
		protocol.TaskStateCanceled,
		protocol.TaskStateFailed,
	},
}

// ValidateTransition reports whether next is a legal successor of
// current. Terminal states are immutable; same-state transitions are
// always accepted (idempotent updates).
func ValidateTransition(current, next protocol.TaskState) error {
	if current == next {
		return nil
	}
	if current.IsTerminal() {
		return fmt.Errorf("taskcore: cannot transition from terminal state %q to %q", current, next)
	}
	for _, allowed := range validTransitions[current] {
		if allowed == next {
			return nil
		}
	}
	return fmt.Errorf("taskcore: invalid transition from %q to %q", current, next)
}

// IsFinal reports whether state produces a terminal Task event rather
// than a TaskStatusUpdateEvent with final=false (spec §4.7.1).
func IsFinal(state protocol.TaskState) bool {
	return state.IsTerminal()
}
