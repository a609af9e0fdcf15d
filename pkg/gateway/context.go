package gateway

import "sync"

// ExternalContext is the opaque external-transport context
// submit_a2a_task stores per task id and the bridge loop hands back to
// the ExternalSink when a reply is ready (spec §4.8.1 step 6, §4.8.3).
// Concrete transports define their own shape; the gateway core never
// inspects it.
type ExternalContext any

// TaskContextManager is the in-memory `task_id → external_ctx` map with
// an auxiliary `task_id → stream buffer string` map, both guarded by
// one lock (spec §4.8.3). It is a bookkeeping structure, not an App —
// the Gateway owns one instance for the lifetime of its bridge loop.
type TaskContextManager struct {
	mu            sync.Mutex
	externalCtx   map[string]ExternalContext
	streamBuffers map[string]string
}

// NewTaskContextManager constructs an empty manager.
func NewTaskContextManager() *TaskContextManager {
	return &TaskContextManager{
		externalCtx:   make(map[string]ExternalContext),
		streamBuffers: make(map[string]string),
	}
}

// Store records external_ctx under task_id (spec §4.8.1 step 6).
func (m *TaskContextManager) Store(taskID string, externalCtx ExternalContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.externalCtx[taskID] = externalCtx
}

// Get returns the stored external_ctx for task_id, if any.
func (m *TaskContextManager) Get(taskID string) (ExternalContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.externalCtx[taskID]
	return ctx, ok
}

// Remove drops both the external_ctx and stream buffer entries for
// task_id (spec §4.8.2 "remove context, remove stream buffer").
func (m *TaskContextManager) Remove(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.externalCtx, taskID)
	delete(m.streamBuffers, taskID)
}

// ClearAll drops every entry, used when a gateway App is stopped.
func (m *TaskContextManager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.externalCtx = make(map[string]ExternalContext)
	m.streamBuffers = make(map[string]string)
}

// AppendStreamBuffer appends text to task_id's stream buffer and
// returns the buffer's new contents (spec §4.7.5's buffering applied at
// the gateway's late-phase resolution boundary).
func (m *TaskContextManager) AppendStreamBuffer(taskID, text string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamBuffers[taskID] += text
	return m.streamBuffers[taskID]
}

// FlushStreamBuffer returns and clears task_id's stream buffer.
func (m *TaskContextManager) FlushStreamBuffer(taskID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := m.streamBuffers[taskID]
	delete(m.streamBuffers, taskID)
	return buf
}

// Len reports how many tasks currently have stored external context,
// for diagnostics and tests.
func (m *TaskContextManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.externalCtx)
}
