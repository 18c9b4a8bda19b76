package orchestrator

import "sync"

// leadRegistry tracks leads with a run in flight in this process.
type leadRegistry struct {
	mu    sync.Mutex
	leads map[string]struct{}
}

func newLeadRegistry() *leadRegistry {
	return &leadRegistry{leads: make(map[string]struct{})}
}

// acquire claims the lead, returning false if another worker holds it.
func (r *leadRegistry) acquire(leadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.leads[leadID]; busy {
		return false
	}
	r.leads[leadID] = struct{}{}
	return true
}

func (r *leadRegistry) release(leadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.leads, leadID)
}
