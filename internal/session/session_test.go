package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

func TestSession_IsValid(t *testing.T) {
	t.Parallel()

	valid := &Session{ExpiresAt: time.Now().Add(time.Minute)}
	assert.True(t, valid.IsValid())
	assert.Positive(t, valid.TTL())

	expired := &Session{ExpiresAt: time.Now().Add(-time.Minute)}
	assert.False(t, expired.IsValid())
	assert.Equal(t, time.Duration(0), expired.TTL())
}

func TestSignals_LoginLogout(t *testing.T) {
	t.Parallel()
	s := NewSignals()

	_, err := s.Current()
	require.ErrorIs(t, err, vaulterr.ErrNotLoggedIn)

	var events []Event
	unsubscribe := s.Subscribe(func(e Event) { events = append(events, e) })

	sess := s.Login("alice", time.Hour)
	assert.Equal(t, "alice", sess.User)
	assert.LessOrEqual(t, sess.TTL(), MaxTTL)

	current, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, sess, current)

	s.Logout()
	_, err = s.Current()
	require.ErrorIs(t, err, vaulterr.ErrNotLoggedIn)

	assert.Equal(t, []Event{EventLogin, EventLogout}, events)

	unsubscribe()
	unsubscribe()
	s.Login("alice", 0)
	assert.Len(t, events, 2)
	assert.Equal(t, 0, s.Subscribers())
}

func TestSignals_TTLClamp(t *testing.T) {
	t.Parallel()
	s := NewSignals()

	short := s.Login("bob", time.Second)
	assert.InDelta(t, MinTTL.Seconds(), short.ExpiresAt.Sub(short.CreatedAt).Seconds(), 0.001)

	long := s.Login("bob", 24*time.Hour)
	assert.InDelta(t, MaxTTL.Seconds(), long.ExpiresAt.Sub(long.CreatedAt).Seconds(), 0.001)
}

func TestSignals_FanOutInOrder(t *testing.T) {
	t.Parallel()
	s := NewSignals()

	var order []int
	for i := 0; i < 5; i++ {
		s.Subscribe(func(Event) { order = append(order, i) })
	}
	s.Logout()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSignals_ListenerMayUnsubscribe(t *testing.T) {
	t.Parallel()
	s := NewSignals()

	calls := 0
	var unsubscribe func()
	unsubscribe = s.Subscribe(func(Event) {
		calls++
		unsubscribe()
	})

	s.Logout()
	s.Logout()
	assert.Equal(t, 1, calls)
}

func TestSignals_ConcurrentSubscribe(t *testing.T) {
	t.Parallel()
	s := NewSignals()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := s.Subscribe(func(Event) {})
			s.Logout()
			unsub()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, s.Subscribers())
}

func TestEvent_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "login", EventLogin.String())
	assert.Equal(t, "logout", EventLogout.String())
	assert.Equal(t, "unknown", Event(0).String())
}
