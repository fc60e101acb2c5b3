// Package cache persists the last-known details of accounts so they can be
// shown while the network is unreachable.
package cache

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/mrz1836/coinvault/internal/chain"
)

// DefaultStaleness is the age after which a snapshot is reported as stale.
const DefaultStaleness = 5 * time.Minute

// Store persists snapshots keyed by currency and address.
type Store interface {
	// Get returns the snapshot of an account. ok is false when none is stored.
	Get(ctx context.Context, cur chain.Currency, address string) (snap Snapshot, ok bool, err error)
	// Put stores a snapshot, replacing any previous one.
	Put(ctx context.Context, snap Snapshot) error
	// Delete removes the snapshot of an account.
	Delete(ctx context.Context, cur chain.Currency, address string) error
}

// Compile-time interface checks
var (
	_ Store = (*Memory)(nil)
	_ Store = (*FileStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// Snapshot is the last-known view of one account. Currency holds
// chain.Currency.Key(); amounts are decimal strings of minor units.
type Snapshot struct {
	Currency  string       `json:"currency"`
	Address   string       `json:"address"`
	Balance   string       `json:"balance"`
	Pending   string       `json:"pending,omitempty"`
	Reserve   string       `json:"reserve,omitempty"`
	Nonce     uint64       `json:"nonce,omitempty"`
	UTXOs     []chain.UTXO `json:"utxos,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// FromState captures an account state.
func FromState(state chain.AccountState) Snapshot {
	balance := "0"
	if state.Confirmed != nil {
		balance = state.Confirmed.String()
	}
	return Snapshot{
		Currency:  state.Currency.Key(),
		Address:   state.Address,
		Balance:   balance,
		Pending:   intString(state.Pending),
		Reserve:   intString(state.Reserve),
		Nonce:     state.Nonce,
		UTXOs:     slices.Clone(state.UTXOs),
		UpdatedAt: state.FetchedAt,
	}
}

// State restores the account state of cur from the snapshot.
func (s Snapshot) State(cur chain.Currency) (chain.AccountState, error) {
	if s.Currency != cur.Key() {
		return chain.AccountState{}, fmt.Errorf("%w: snapshot of %s read as %s", ErrCorruptCache, s.Currency, cur.Key())
	}
	state := chain.AccountState{
		Currency:  cur,
		Address:   s.Address,
		Nonce:     s.Nonce,
		UTXOs:     slices.Clone(s.UTXOs),
		FetchedAt: s.UpdatedAt,
	}
	var err error
	if state.Confirmed, err = parseInt(s.Balance); err != nil {
		return chain.AccountState{}, err
	}
	if state.Pending, err = parseInt(s.Pending); err != nil {
		return chain.AccountState{}, err
	}
	if state.Reserve, err = parseInt(s.Reserve); err != nil {
		return chain.AccountState{}, err
	}
	return state, nil
}

func intString(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return ""
	}
	return v.String()
}

func parseInt(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: invalid amount %q", ErrCorruptCache, s)
	}
	return v, nil
}

// Age returns how long ago the snapshot was taken.
func (s Snapshot) Age() time.Duration {
	return time.Since(s.UpdatedAt)
}

// IsStale reports whether the snapshot is older than maxAge.
func (s Snapshot) IsStale(maxAge time.Duration) bool {
	return s.Age() > maxAge
}

// Key generates the storage key of an account.
func Key(cur chain.Currency, address string) string {
	return cur.Key() + ":" + address
}

// Memory is an in-process Store. The zero value is not usable; use NewMemory.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Snapshot
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Snapshot)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, cur chain.Currency, address string) (Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.entries[Key(cur, address)]
	return snap, ok, nil
}

// Put implements Store. A zero UpdatedAt is set to now.
func (m *Memory) Put(_ context.Context, snap Snapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[snapKey(snap)] = snap
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, cur chain.Currency, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, Key(cur, address))
	return nil
}

// Size returns the number of snapshots.
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// ForAddress returns every snapshot of an address across currencies.
func (m *Memory) ForAddress(address string) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Snapshot
	for _, snap := range m.entries {
		if snap.Address == address {
			out = append(out, snap)
		}
	}
	return out
}

// Prune removes snapshots older than maxAge and returns how many were removed.
func (m *Memory) Prune(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for key, snap := range m.entries {
		if snap.UpdatedAt.Before(cutoff) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// snapKey is Key for a stored snapshot, whose currency is already a key.
func snapKey(s Snapshot) string {
	return s.Currency + ":" + s.Address
}
