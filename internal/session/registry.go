// Package session serializes streaming recognition work per client session.
package session

import (
	"sync"

	"github.com/Ddahuang324/IeltsSpeking-Assistant/internal/engine"
)

// Registry maps opaque session ids to recognizer state. A short-held
// registry-wide mutex guards only map mutation; all audio work for a session
// happens under that session's own lock, so unrelated sessions never block
// each other and the engine is never invoked under the registry mutex.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// Session is the per-id recognition state. The embedded lock serializes all
// engine access for the session; the closed flag is only meaningful to
// holders of that lock.
type Session struct {
	id     string
	mu     sync.Mutex
	handle engine.Handle
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Acquire returns the session for id, creating it on first reference.
// Creation is safe under concurrent first-reference from many requests.
func (r *Registry) Acquire(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	if s == nil {
		s = &Session{id: id}
		r.sessions[id] = s
	}
	return s
}

// Peek returns the session for id without creating one.
func (r *Registry) Peek(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// CloseAndRemove marks s closed, detaches its engine handle and drops the
// registry entry, returning the handle (nil if the session never produced
// audio). The caller must hold s's lock. After removal the id can be reused
// fresh; requests already blocked on s observe the closed flag instead.
func (r *Registry) CloseAndRemove(s *Session) engine.Handle {
	h := s.handle
	s.handle = nil
	s.closed = true

	r.mu.Lock()
	if r.sessions[s.id] == s {
		delete(r.sessions, s.id)
	}
	r.mu.Unlock()
	return h
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Closed reports whether end-of-utterance already ran for this session
// object. Caller must hold the session lock.
func (s *Session) Closed() bool { return s.closed }

// Handle returns the engine handle bound to the session, or nil before the
// first accepted fragment. Caller must hold the session lock.
func (s *Session) Handle() engine.Handle { return s.handle }

// Bind associates a freshly created engine handle with the session. Called
// at most once per active lifetime, under the session lock.
func (s *Session) Bind(h engine.Handle) { s.handle = h }
