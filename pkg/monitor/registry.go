package monitor

import "sync"

// Registry owns the mapping from file path to session state. The monitor's
// event loop is the only writer; the mutex exists so status inspection
// (and tests) can read safely from other goroutines.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for the path, creating it in Discovered
// state if absent. Creation does not touch the parsing collaborator.
func (r *Registry) GetOrCreate(path string) (session *Session, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[path]; ok {
		return s, false
	}
	s := newSession(path)
	r.sessions[path] = s
	return s, true
}

// Get returns the session for the path, or nil if not tracked.
func (r *Registry) Get(path string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[path]
}

// Remove drops the session for the path. Idempotent.
func (r *Registry) Remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, path)
}

// All returns all tracked sessions.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	return result
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close closes all parser handles and clears the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.parser != nil {
			_ = s.parser.Close()
			s.parser = nil
		}
	}
	r.sessions = make(map[string]*Session)
}
