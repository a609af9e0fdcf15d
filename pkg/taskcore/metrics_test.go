package taskcore

import (
	"github.com/solacelabs/agentmesh/pkg/observability"
)

// stubRecorder embeds the no-op Recorder and overrides only the mesh
// counters this package's components drive, recording call order/args
// for assertions.
type stubRecorder struct {
	observability.NoopMetrics

	taskTerminalStates   []string
	compactionsTotal     int
	peerSubtasksPending  int
	peerSubtasksReturned int
}

func (r *stubRecorder) RecordTaskTerminal(state string) {
	r.taskTerminalStates = append(r.taskTerminalStates, state)
}

func (r *stubRecorder) RecordCompactionTriggered() {
	r.compactionsTotal++
}

func (r *stubRecorder) RecordPeerSubtaskPending() {
	r.peerSubtasksPending++
}

func (r *stubRecorder) RecordPeerSubtaskReturned() {
	r.peerSubtasksReturned++
}
