package taskcore

import "fmt"

// LlmCallsLimitExceededError is raised when a task's recursive
// sync-long-running-tool re-entries exceed max_llm_calls_per_task
// (spec §4.7.6). Terminates the task as failed.
type LlmCallsLimitExceededError struct {
	TaskID string
	Limit  int
}

func (e *LlmCallsLimitExceededError) Error() string {
	return fmt.Sprintf("taskcore: task %s exceeded max_llm_calls_per_task=%d", e.TaskID, e.Limit)
}

// TaskCancelledError is raised mid-driver-loop when the cancellation
// flag is observed set (spec §4.7.2 step 2d).
type TaskCancelledError struct {
	TaskID string
}

func (e *TaskCancelledError) Error() string {
	return fmt.Sprintf("taskcore: task %s cancelled", e.TaskID)
}

// CompactionExhaustedError is raised when context-compaction retries
// exceed the bound without success (spec §4.7.3).
type CompactionExhaustedError struct {
	TaskID  string
	Retries int
}

func (e *CompactionExhaustedError) Error() string {
	return fmt.Sprintf("taskcore: task %s exhausted %d compaction retries", e.TaskID, e.Retries)
}

// InsufficientHistoryError is raised when compaction cannot find a
// cutoff that leaves at least one complete user turn uncompacted
// (spec §4.7.3 step 3).
type InsufficientHistoryError struct {
	TaskID string
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("taskcore: task %s has insufficient history to compact", e.TaskID)
}
