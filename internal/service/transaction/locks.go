package transaction

import (
	"context"
	"sync"

	"github.com/mrz1836/coinvault/internal/chain"
)

// accountLocks serializes candidate construction per sending account.
// Each slot is a one-element channel so waiting honours context cancellation.
type accountLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newAccountLocks() *accountLocks {
	return &accountLocks{slots: make(map[string]chan struct{})}
}

// lockKey keys by the fee chain: a token and its native coin share the
// sender's nonce, so they must not be built concurrently.
func lockKey(cur chain.Currency, address string) string {
	return cur.Chain().Key() + "|" + address
}

// acquire blocks until the slot for key is free or ctx is done.
func (l *accountLocks) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
