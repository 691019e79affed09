package chat

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry is the shared store of active sessions, keyed by username. Every
// mutation and composite read serializes on one mutex; sends to the sinks
// happen outside it so a slow client cannot stall registry operations for
// everyone else.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	log     *slog.Logger
	metrics *Metrics
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(log *slog.Logger, metrics *Metrics) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		log:      log,
		metrics:  metrics,
	}
}

// Register creates a session for username delivering through sink. It fails
// with ErrAlreadyActive if the username already has a live session; a second
// login never silently replaces the first.
func (r *Registry) Register(username string, sink Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[username]; ok {
		return nil, ErrAlreadyActive
	}
	s := &Session{Name: username, Created: time.Now(), conn: sink}
	r.sessions[username] = s
	r.metrics.SessionAdded()
	return s, nil
}

// Unregister removes the session for username, if any. Idempotent.
func (r *Registry) Unregister(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[username]; ok {
		delete(r.sessions, username)
		r.metrics.SessionRemoved()
	}
}

// Drop removes s only if it still is the current session for its username.
// This keeps a connection's deferred cleanup from evicting a session that
// was created after the race between exit and teardown. Reports whether the
// entry was removed.
func (r *Registry) Drop(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.Name]; ok && cur == s {
		delete(r.sessions, s.Name)
		r.metrics.SessionRemoved()
		return true
	}
	return false
}

// Lookup returns the session for username.
func (r *Registry) Lookup(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[username]
	return s, ok
}

// Usernames returns a snapshot of the active usernames, sorted for
// deterministic output. Clients must treat the order as meaningless.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// snapshot copies the current sessions so sends can run outside the lock.
func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Broadcast sends env to every active session except the username named by
// exclude (empty excludes no one). Delivery is best effort: a failed send
// is logged and does not block delivery to the remaining sessions; a
// session removed between the snapshot and the send just fails harmlessly.
func (r *Registry) Broadcast(env Envelope, exclude string) {
	for _, s := range r.snapshot() {
		if s.Name == exclude {
			continue
		}
		if err := s.Send(env); err != nil {
			r.metrics.DeliveryFailed()
			r.log.Warn("broadcast delivery failed", "to", s.Name)
		}
	}
}

// BroadcastMembership pushes the current active-user list to every session
// except exclude.
func (r *Registry) BroadcastMembership(exclude string) {
	r.Broadcast(MembershipPush(r.Usernames()), exclude)
}

// CloseAll tears down every session's transport; used on server shutdown.
// Each connection's own handler performs the unregistration.
func (r *Registry) CloseAll() {
	for _, s := range r.snapshot() {
		_ = s.Close()
	}
}
