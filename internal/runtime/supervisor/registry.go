package supervisor

import "sync"

// Registry names the supervisors of running subsystems for operational
// views. Subsystems register a lookup because their supervisor is replaced
// on every restart.
type Registry struct {
	mu sync.RWMutex
	m  map[string]func() *Supervisor
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]func() *Supervisor{}}
}

// Set registers lookup under name. A nil lookup deletes the entry.
func (r *Registry) Set(name string, lookup func() *Supervisor) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if lookup == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = lookup
}

// Counters returns the counters of every registered supervisor that is
// currently running.
func (r *Registry) Counters() map[string]Counters {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	lookups := make(map[string]func() *Supervisor, len(r.m))
	for k, v := range r.m {
		lookups[k] = v
	}
	r.mu.RUnlock()

	out := make(map[string]Counters, len(lookups))
	for name, lookup := range lookups {
		if s := lookup(); s != nil {
			out[name] = s.Counters()
		}
	}
	return out
}
