// Package session owns the authentication lifecycle of one wallet user.
// Login and logout are explicit state transitions on a Signals value; caches
// and services subscribe to them instead of watching global state.
package session

import (
	"sort"
	"sync"
	"time"

	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// Default session configuration values.
const (
	// DefaultTTL is the default session duration (15 minutes).
	DefaultTTL = 15 * time.Minute

	// MaxTTL is the maximum allowed session duration (60 minutes).
	MaxTTL = 60 * time.Minute

	// MinTTL is the minimum allowed session duration (1 minute).
	MinTTL = 1 * time.Minute
)

// Session represents an authenticated user.
type Session struct {
	User      string    `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsValid returns true if the session has not expired.
func (s *Session) IsValid() bool {
	return time.Now().Before(s.ExpiresAt)
}

// TTL returns the remaining time until the session expires.
// Returns 0 if the session has already expired.
func (s *Session) TTL() time.Duration {
	remaining := time.Until(s.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Event is an authentication lifecycle signal.
type Event int

// Lifecycle events.
const (
	EventLogin Event = iota + 1
	EventLogout
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventLogin:
		return "login"
	case EventLogout:
		return "logout"
	default:
		return "unknown"
	}
}

// Listener receives lifecycle events. Listeners run synchronously on the
// goroutine that called Login or Logout and must not block.
type Listener func(Event)

// Source is what subscribers need from Signals.
type Source interface {
	Subscribe(l Listener) (unsubscribe func())
}

// Signals broadcasts login and logout to any number of subscribers.
type Signals struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[uint64]Listener
	current   *Session
}

// NewSignals creates a lifecycle with no active session.
func NewSignals() *Signals {
	return &Signals{listeners: make(map[uint64]Listener)}
}

// Subscribe registers l and returns a function that removes it.
func (s *Signals) Subscribe(l Listener) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Subscribers returns the number of registered listeners.
func (s *Signals) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

// Login starts a session for user and notifies subscribers.
// The TTL is clamped to [MinTTL, MaxTTL].
func (s *Signals) Login(user string, ttl time.Duration) *Session {
	ttl = min(max(ttl, MinTTL), MaxTTL)

	now := time.Now()
	sess := &Session{User: user, CreatedAt: now, ExpiresAt: now.Add(ttl)}

	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	s.notify(EventLogin)
	return sess
}

// Logout ends the active session and notifies subscribers.
// Logging out without a session still notifies, so caches are always flushed.
func (s *Signals) Logout() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	s.notify(EventLogout)
}

// Current returns the active session.
func (s *Signals) Current() (*Session, error) {
	s.mu.RLock()
	sess := s.current
	s.mu.RUnlock()

	if sess == nil || !sess.IsValid() {
		return nil, vaulterr.ErrNotLoggedIn
	}
	return sess, nil
}

// notify calls listeners in subscription order outside the lock, so a
// listener may subscribe or unsubscribe.
func (s *Signals) notify(e Event) {
	s.mu.RLock()
	ids := make([]uint64, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(e)
	}
}
