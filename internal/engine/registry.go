package engine

import (
	"sort"
	"sync"
)

// Registry is the single source of truth for broadcasts running right now.
// It is an injectable value rather than process-global state so multiple
// engines and test harnesses can coexist.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// register records a live session. A session is present here exactly as long
// as its subprocess handle is live or pending cleanup.
func (r *Registry) register(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
}

// remove drops a session from the table. Idempotent.
func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Lookup returns the live session with the given id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	return session, ok
}

// ListByUser returns the user's live sessions ordered by start time.
func (r *Registry) ListByUser(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, session := range r.sessions {
		if session.UserID == userID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// CountByUser reports how many sessions the user currently has live. The
// request layer uses this to enforce plan concurrency caps before starting a
// new broadcast.
func (r *Registry) CountByUser(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, session := range r.sessions {
		if session.UserID == userID {
			count++
		}
	}
	return count
}

// StopSession stops one session by id. Stopping an absent or already-stopped
// session is a no-op reported as false, never an error.
func (r *Registry) StopSession(id string) bool {
	session, ok := r.Lookup(id)
	if !ok {
		return false
	}
	return session.Stop()
}

// StopUser stops every live session owned by the user and returns how many
// were stopped.
func (r *Registry) StopUser(userID string) int {
	stopped := 0
	for _, session := range r.ListByUser(userID) {
		if session.Stop() {
			stopped++
		}
	}
	return stopped
}

// StopAll stops every live session (administrative shutdown) and returns how
// many were stopped.
func (r *Registry) StopAll() int {
	stopped := 0
	for _, session := range r.all() {
		if session.Stop() {
			stopped++
		}
	}
	return stopped
}

// all snapshots the live sessions under the read lock.
func (r *Registry) all() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}
