package localstore

import (
	"sync"
	"time"
)

// DefaultSessionTTL is how long an idle session keeps its values.
const DefaultSessionTTL = 30 * time.Minute

type session struct {
	values  map[string]string
	touched time.Time
}

// Sessions holds per-session values in memory, the way session storage
// is scoped to one browser tab.
type Sessions struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data map[string]*session
}

// NewSessions creates an empty session map.
func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{ttl: ttl, now: time.Now, data: make(map[string]*session)}
}

// Get returns the value of key in session id.
func (s *Sessions) Get(id, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.live(id)
	if sess == nil {
		return "", false
	}
	v, ok := sess.values[key]
	return v, ok
}

// Set stores a value in session id and refreshes its expiry.
func (s *Sessions) Set(id, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.live(id)
	if sess == nil {
		sess = &session{values: make(map[string]string)}
		s.data[id] = sess
	}
	sess.values[key] = value
	sess.touched = s.now()
}

// Prune drops expired sessions and returns how many were removed.
func (s *Sessions) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	cutoff := s.now().Add(-s.ttl)
	for id, sess := range s.data {
		if sess.touched.Before(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *Sessions) live(id string) *session {
	sess, ok := s.data[id]
	if !ok {
		return nil
	}
	if s.now().Sub(sess.touched) > s.ttl {
		delete(s.data, id)
		return nil
	}
	return sess
}
