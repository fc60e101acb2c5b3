package transaction

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/coinvault/internal/chain"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

func utxos(n int, amount uint64) []chain.UTXO {
	out := make([]chain.UTXO, n)
	for i := range out {
		out[i] = chain.UTXO{TxID: "tx", Vout: uint32(i), Amount: amount} //nolint:gosec // small test index
	}
	return out
}

// TestService_PrepareSerializesPerAccount checks that reading state and
// building never interleave for one account, and that every concurrent
// build sees the outputs already claimed by the others.
func TestService_PrepareSerializesPerAccount(t *testing.T) {
	t.Parallel()

	fc := newFakeChain(chain.BTC, 480, 1)
	fc.utxos = utxos(8, 60)

	var active, peak atomic.Int32
	fc.onFetch = func(string) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return nil
	}
	fc.onBuild = func() { active.Add(-1) }
	env := newTestEnv(t, fc)

	const builds = 8
	var wg sync.WaitGroup
	results := make([]chain.Validated, builds)
	errs := make([]error, builds)
	for i := range builds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = env.service.Prepare(t.Context(), sendBTC("alice", 50))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load(), "state read and build ran concurrently for one account")
	seen := make(map[string]bool)
	for i := range builds {
		require.NoError(t, errs[i])
		require.Len(t, results[i].Candidate.Inputs, 1)
		key := results[i].Candidate.Inputs[0].Key()
		assert.False(t, seen[key], "output %s claimed twice", key)
		seen[key] = true
	}
}

// TestService_PrepareSecondBuildSeesReservation runs two builds against a
// single output: exactly one wins it.
func TestService_PrepareSecondBuildSeesReservation(t *testing.T) {
	t.Parallel()

	fc := newFakeChain(chain.BTC, 60, 1)
	fc.utxos = utxos(1, 60)
	env := newTestEnv(t, fc)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.service.Prepare(t.Context(), sendBTC("alice", 50))
		}()
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case vaulterr.Is(err, vaulterr.ErrNoUTXOs):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
}

// TestService_PrepareUnrelatedAccountsInParallel requires both accounts to be
// inside the state read at the same time.
func TestService_PrepareUnrelatedAccountsInParallel(t *testing.T) {
	t.Parallel()

	fc := newFakeChain(chain.BTC, 100, 1)
	var started sync.WaitGroup
	started.Add(2)
	both := make(chan struct{})
	go func() {
		started.Wait()
		close(both)
	}()
	fc.onFetch = func(string) error {
		started.Done()
		select {
		case <-both:
			return nil
		case <-time.After(5 * time.Second):
			return errFetchSerialized
		}
	}
	env := newTestEnv(t, fc)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, from := range []string{"alice", "bob"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.service.Prepare(t.Context(), sendBTC(from, 10))
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
}

func TestService_PrepareHonoursCancellationWhileWaiting(t *testing.T) {
	t.Parallel()

	fc := newFakeChain(chain.BTC, 100, 1)
	env := newTestEnv(t, fc)

	unlock, err := env.service.locks.acquire(t.Context(), lockKey(chain.BTC, "alice"))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = env.service.Prepare(ctx, sendBTC("alice", 10))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, fc.builds.Load())
}

func TestLockKey(t *testing.T) {
	t.Parallel()

	usdc := chain.NewToken(chain.ETH, "USDC", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", 6)
	assert.Equal(t, lockKey(chain.ETH, "0xabc"), lockKey(usdc, "0xabc"), "token shares the native nonce lock")
	assert.NotEqual(t, lockKey(chain.BTC, "a"), lockKey(chain.BCH, "a"))
	assert.NotEqual(t, lockKey(chain.BTC, "a"), lockKey(chain.BTC, "b"))
}
