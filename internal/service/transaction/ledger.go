package transaction

import (
	"sync"

	"github.com/mrz1836/coinvault/internal/chain"
)

// ledger remembers every transaction this process published, keyed by hash.
// Encoded hashes are deterministic, so the hash is the idempotency key.
type ledger struct {
	mu        sync.RWMutex
	published map[string]chain.Published
}

func newLedger() *ledger {
	return &ledger{published: make(map[string]chain.Published)}
}

func (l *ledger) get(hash string) (chain.Published, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.published[hash]
	return p, ok
}

func (l *ledger) put(hash string, p chain.Published) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.published[hash]; !exists {
		l.published[hash] = p
	}
}

func (l *ledger) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.published)
}
