package taskcore

import (
	"sync"
	"time"

	"github.com/solacelabs/agentmesh/pkg/protocol"
)

// RunningTask is the mutable runtime record for one in-flight task,
// bundling the A2A-visible protocol.Task with the bookkeeping the
// driver loop needs across re-entries (long-running tool pauses, peer
// delegation, streaming buffer, cancellation). One RunningTask backs
// exactly one logical invocation of the driver loop; peer responses and
// long-running tool completions re-enter it rather than creating a new
// one (spec §4.7.2, §4.7.4).
type RunningTask struct {
	mu sync.Mutex

	Task *protocol.Task

	// InvocationID identifies the current LLM-turn invocation; captured
	// from the first LLM event of a driver-loop entry (spec §4.7.2 step 2b).
	InvocationID string

	// ExternalRequestContext carries gateway-originated metadata threaded
	// through to tool calls and peer delegation.
	ExternalRequestContext map[string]any

	// PendingLongRunningTools holds tool-call ids awaiting external
	// completion (spec §4.7.2 step 2a).
	PendingLongRunningTools map[string]bool

	// SyncResponsesByInvocation collects long-running tool responses
	// that arrived before the LLM stream ended, keyed by invocation id,
	// for later merge with async responses (spec §4.7.2 step 3).
	SyncResponsesByInvocation map[string][]protocol.Part

	// ActivePeerSubTasks maps a delegated sub_task_id to the peer it was
	// sent to and the originating tool-call id (spec §4.7.4).
	ActivePeerSubTasks map[string]PeerDelegation

	// ParallelResultsByInvocation collects peer responses that have
	// returned so far for a given invocation id, until all sub-tasks
	// sharing that id have reported (spec §4.7.4).
	ParallelResultsByInvocation map[string][]PeerResult

	// PendingInvocationPeerCount is how many outstanding peer sub-tasks
	// remain for a given invocation id.
	PendingInvocationPeerCount map[string]int

	// StreamBuffer holds the still-open suffix of the latest streaming
	// TextPart (spec §4.7.5).
	StreamBuffer string

	// LLMCallCount counts LLM turns taken so far, bounded by
	// MaxLLMCallsPerTask (spec §4.7.6).
	LLMCallCount int

	// CompactionRetries counts context-compaction attempts for the
	// current overflow episode (spec §4.7.3, bounded to 3).
	CompactionRetries int

	// PendingSummaryNotification holds a compaction summary awaiting the
	// deferred root-task notification (spec §4.7.3).
	PendingSummaryNotification string

	// Canceled is set by the cancellation handler; the driver loop
	// checks it after every LLM event (spec §4.7.2 step 2d).
	Canceled bool

	CreatedAt time.Time
}

// PeerDelegation records one outstanding call-peer-agent tool call.
type PeerDelegation struct {
	PeerAgentName    string
	ADKFunctionCallID string
	InvocationID     string
}

// PeerResult is one peer sub-task's completed response.
type PeerResult struct {
	SubTaskID         string
	ADKFunctionCallID string
	PeerAgentName     string
	Payload           any
}

// NewRunningTask wraps a freshly submitted protocol.Task for the driver
// loop.
func NewRunningTask(task *protocol.Task) *RunningTask {
	return &RunningTask{
		Task:                        task,
		PendingLongRunningTools:     make(map[string]bool),
		SyncResponsesByInvocation:   make(map[string][]protocol.Part),
		ActivePeerSubTasks:          make(map[string]PeerDelegation),
		ParallelResultsByInvocation: make(map[string][]PeerResult),
		PendingInvocationPeerCount:  make(map[string]int),
		CreatedAt:                   time.Now(),
	}
}

// IsRoot reports whether this task has no parent — only root tasks
// consume deferred compaction notifications (spec §4.7.3).
func (t *RunningTask) IsRoot() bool {
	return t.Task.ParentTaskID == ""
}

// SetState validates and applies a state transition, returning the
// previous state.
func (t *RunningTask) SetState(next protocol.TaskState) (protocol.TaskState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.Task.State
	if err := ValidateTransition(prev, next); err != nil {
		return prev, err
	}
	t.Task.State = next
	return prev, nil
}

// Cancel marks the task canceled for the driver loop to observe.
func (t *RunningTask) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Canceled = true
}

// IsCanceled reports the cancellation flag.
func (t *RunningTask) IsCanceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Canceled
}
