package poller

import "sync"

// Registry is the process-wide set of job IDs currently being polled. Its
// check-and-insert is a single atomic step, which is what provides the
// at-most-one-active-poller-per-job guarantee within a running process.
//
// The registry is injected into the poller and the recovery orchestrator
// rather than living as package-level state, so concurrent-start races can
// be tested in isolation.
type Registry struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]struct{})}
}

// TryAdd atomically inserts jobID and reports whether it was absent.
// A false return means another poller already tracks the job and the caller
// must not start a second loop.
func (r *Registry) TryAdd(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[jobID]; exists {
		return false
	}
	r.active[jobID] = struct{}{}
	return true
}

// Remove deletes jobID from the set. Removing an absent ID is a no-op.
func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, jobID)
}

// Contains reports whether jobID is currently tracked.
func (r *Registry) Contains(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.active[jobID]
	return exists
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
