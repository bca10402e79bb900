package tasks

import (
	"sync"

	"github.com/agentexec/core/runtime/agent/engine"
)

// handleRegistry tracks the live engine.WorkflowHandle for tasks whose
// workflow was started by this process, so Pause/Resume/Cancel can signal
// it directly. A task service instance restarted after a crash loses these
// handles; engines that support signal-by-workflow-ID transparently (as
// Temporal does) can reconstruct one from the task's execution_id instead
// of relying on this in-memory map, but the in-memory path keeps the
// in-process engine backend workable too.
type handleRegistry struct {
	mu sync.RWMutex
	m  map[string]engine.WorkflowHandle
}

func newHandleRegistry() *handleRegistry {
	return &handleRegistry{m: map[string]engine.WorkflowHandle{}}
}

func (r *handleRegistry) put(taskID string, h engine.WorkflowHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[taskID] = h
}

func (r *handleRegistry) get(taskID string) (engine.WorkflowHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.m[taskID]
	return h, ok
}

func (r *handleRegistry) delete(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, taskID)
}
