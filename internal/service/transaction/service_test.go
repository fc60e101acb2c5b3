package transaction

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/metrics"
	"github.com/mrz1836/coinvault/internal/money"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

type testEnv struct {
	chain       *fakeChain
	keys        *fakeKeys
	invalidator *fakeInvalidator
	metrics     *metrics.Metrics
	service     *Service
}

func newTestEnv(t *testing.T, fc *fakeChain) *testEnv {
	t.Helper()
	registry := chain.NewRegistry()
	registry.Register(fc.cur, fc.capabilities())

	env := &testEnv{
		chain:       fc,
		keys:        &fakeKeys{},
		invalidator: &fakeInvalidator{},
		metrics:     &metrics.Metrics{},
	}
	env.service = NewService(&Config{
		Registry: registry,
		Keys:     env.keys,
		Balances: env.invalidator,
		Metrics:  env.metrics,
	})
	return env
}

func sendBTC(from string, amount uint64) SendRequest {
	return SendRequest{From: from, To: "dest", Amount: money.FromUint64(chain.BTC, amount)}
}

func TestSendRequest_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  SendRequest
		want error
	}{
		{"no amount", SendRequest{From: "a", To: "b"}, vaulterr.ErrAmountRequired},
		{"zero amount", SendRequest{From: "a", To: "b", Amount: money.Zero(chain.BTC)}, vaulterr.ErrInvalidAmount},
		{"no sender", SendRequest{To: "b", Amount: money.FromUint64(chain.BTC, 1)}, vaulterr.ErrInvalidAddress},
		{"no destination", SendRequest{From: "a", Amount: money.FromUint64(chain.BTC, 1)}, vaulterr.ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.req.validate()
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, vaulterr.ClassInput, vaulterr.ClassOf(err))
		})
	}
}

func TestService_Send(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, newFakeChain(chain.BTC, 100, 1))

	validated, err := env.service.Prepare(t.Context(), sendBTC("alice", 50))
	require.NoError(t, err)
	assert.NotEmpty(t, validated.Candidate.ID, "service assigns an ID")
	assert.False(t, validated.Candidate.CreatedAt.IsZero())
	assert.Equal(t, int64(99), validated.Spendable.Int64())

	signed, err := env.service.Sign(t.Context(), validated)
	require.NoError(t, err)
	for _, key := range env.keys.issued {
		assert.Equal(t, []byte{0, 0, 0, 0}, key, "key is zeroed after signing")
	}

	encoded, err := env.service.Encode(signed)
	require.NoError(t, err)
	assert.Equal(t, "hash-"+validated.Candidate.ID, encoded.Hash)
	assert.NotEmpty(t, encoded.RawHex)

	published, err := env.service.Publish(t.Context(), encoded)
	require.NoError(t, err)
	assert.Equal(t, encoded.Hash, published.Hash)
	assert.False(t, published.Duplicate)
	assert.False(t, published.PublishedAt.IsZero())
	assert.Equal(t, []string{validated.Candidate.ID}, env.chain.committedIDs())
	assert.Equal(t, []string{"btc:alice"}, env.invalidator.calls())

	recorded, ok := env.service.Published(encoded.Hash)
	require.True(t, ok)
	assert.Equal(t, published.Hash, recorded.Hash)

	again, err := env.service.Publish(t.Context(), encoded)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, published.Hash, again.Hash)
	assert.Equal(t, int32(1), env.chain.publishCalls.Load(), "second publish makes no network call")

	snap := env.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.CandidatesBuilt)
	assert.Equal(t, int64(2), snap.BroadcastsTotal)
	assert.Equal(t, int64(1), snap.BroadcastDuplicates)
}

func TestService_SendOneShot(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, newFakeChain(chain.BTC, 100, 1))
	published, err := env.service.Send(t.Context(), sendBTC("alice", 99))
	require.NoError(t, err)
	assert.NotEmpty(t, published.Hash)
	assert.Equal(t, 1, env.service.ledger.len())
}

func TestService_PrepareRejections(t *testing.T) {
	t.Parallel()

	t.Run("insufficient funds", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, newFakeChain(chain.BTC, 100, 1))
		_, err := env.service.Prepare(t.Context(), sendBTC("alice", 100))
		require.ErrorIs(t, err, vaulterr.ErrInsufficientFunds)
		assert.Equal(t, vaulterr.ClassValidation, vaulterr.ClassOf(err))
		assert.Len(t, env.chain.releasedIDs(), 1, "claims of a rejected candidate are released")
		assert.Equal(t, int64(1), env.metrics.Snapshot().CandidatesRejected)
	})

	t.Run("fee too low", func(t *testing.T) {
		t.Parallel()
		fc := newFakeChain(chain.BTC, 100, 1)
		fc.minimum = big.NewInt(10)
		env := newTestEnv(t, fc)
		_, err := env.service.Prepare(t.Context(), sendBTC("alice", 10))
		require.ErrorIs(t, err, vaulterr.ErrFeeTooLow)
	})

	t.Run("unreachable destination", func(t *testing.T) {
		t.Parallel()
		fc := newFakeChain(chain.BTC, 100, 1)
		fc.missing["dest"] = true
		env := newTestEnv(t, fc)
		_, err := env.service.Prepare(t.Context(), sendBTC("alice", 10))
		require.ErrorIs(t, err, vaulterr.ErrAddressUnreachable)
	})

	t.Run("malformed destination", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, newFakeChain(chain.BTC, 100, 1))
		req := sendBTC("alice", 10)
		req.To = "bad-dest"
		_, err := env.service.Prepare(t.Context(), req)
		require.ErrorIs(t, err, vaulterr.ErrInvalidAddress)
		assert.Equal(t, vaulterr.ClassInput, vaulterr.ClassOf(err))
	})

	t.Run("unsupported currency", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, newFakeChain(chain.BTC, 100, 1))
		_, err := env.service.Prepare(t.Context(), SendRequest{From: "a", To: "b", Amount: money.FromUint64(chain.DOT, 1)})
		require.ErrorIs(t, err, vaulterr.ErrUnsupportedAsset)
		assert.Equal(t, vaulterr.ClassProgramming, vaulterr.ClassOf(err))
	})

	t.Run("state fetch fails", func(t *testing.T) {
		t.Parallel()
		fc := newFakeChain(chain.BTC, 100, 1)
		fc.onFetch = func(string) error { return vaulterr.ErrNetworkError }
		env := newTestEnv(t, fc)
		_, err := env.service.Prepare(t.Context(), sendBTC("alice", 10))
		require.ErrorIs(t, err, vaulterr.ErrNetworkError)
		assert.Zero(t, fc.builds.Load())
	})
}

func TestService_TokenFeeBoundary(t *testing.T) {
	t.Parallel()

	usdc := chain.NewToken(chain.ETH, "USDC", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", 6)
	fc := newFakeChain(usdc, 500, 100)
	fc.feeFunds = big.NewInt(100)
	env := newTestEnv(t, fc)

	req := SendRequest{From: "0xabc", To: "0xdef", Amount: money.FromUint64(usdc, 500)}
	validated, err := env.service.Prepare(t.Context(), req)
	require.NoError(t, err)
	assert.Zero(t, validated.Spendable.Sign(), "fee funds equal to the fee leave zero spendable")

	published, err := env.service.Send(t.Context(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, published.Hash)
	assert.ElementsMatch(t, []string{usdc.Key() + ":0xabc", "eth:0xabc"}, env.invalidator.calls())

	fc.mu.Lock()
	fc.feeFunds = big.NewInt(99)
	fc.mu.Unlock()
	_, err = env.service.Prepare(t.Context(), req)
	require.ErrorIs(t, err, vaulterr.ErrInsufficientFunds)
}

func TestService_SignErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, newFakeChain(chain.BTC, 100, 1))
	validated, err := env.service.Prepare(t.Context(), sendBTC("alice", 10))
	require.NoError(t, err)

	t.Run("no key source", func(t *testing.T) {
		t.Parallel()
		registry := chain.NewRegistry()
		registry.Register(chain.BTC, env.chain.capabilities())
		svc := NewService(&Config{Registry: registry})
		_, err := svc.Sign(t.Context(), validated)
		require.ErrorIs(t, err, vaulterr.ErrNotLoggedIn)
	})

	t.Run("wrong curve", func(t *testing.T) {
		t.Parallel()
		_, err := env.service.SignWith(validated, chain.KeyPair{Curve: chain.CurveEd25519, Private: []byte{1}})
		require.ErrorIs(t, err, vaulterr.ErrSigningFailed)
		assert.Equal(t, vaulterr.ClassProgramming, vaulterr.ClassOf(err))
	})

	t.Run("unvalidated candidate", func(t *testing.T) {
		t.Parallel()
		_, err := env.service.SignWith(chain.Validated{}, chain.KeyPair{Curve: chain.CurveSecp256k1, Private: []byte{1}})
		require.ErrorIs(t, err, vaulterr.ErrStageMismatch)
	})

	t.Run("encode without signature", func(t *testing.T) {
		t.Parallel()
		_, err := env.service.Encode(chain.Signed{Validated: validated})
		require.ErrorIs(t, err, vaulterr.ErrStageMismatch)
	})

	t.Run("publish without encoding", func(t *testing.T) {
		t.Parallel()
		_, err := env.service.Publish(t.Context(), chain.Encoded{})
		require.ErrorIs(t, err, vaulterr.ErrStageMismatch)
	})
}

func TestService_SendReleasesOnSignFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, newFakeChain(chain.BTC, 100, 1))
	env.keys.err = errors.New("key not found")

	_, err := env.service.Send(t.Context(), sendBTC("alice", 10))
	require.Error(t, err)
	assert.Len(t, env.chain.releasedIDs(), 1)
	assert.Zero(t, env.chain.publishCalls.Load())
}

func TestService_PublishFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		released bool
	}{
		{"rejected by network", vaulterr.WithDetails(vaulterr.ErrTxRejected, map[string]string{"reason": "bad"}), true},
		{"fee rejected", vaulterr.ErrFeeTooLow, true},
		{"transport failure", vaulterr.ErrNetworkError, false},
		{"timeout", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fc := newFakeChain(chain.BTC, 100, 1)
			fc.publishErr = tt.err
			env := newTestEnv(t, fc)

			_, err := env.service.Send(t.Context(), sendBTC("alice", 10))
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.released, len(fc.releasedIDs()) == 1)
			assert.Empty(t, fc.committedIDs())
			assert.Empty(t, env.invalidator.calls())
			assert.Equal(t, int64(1), env.metrics.Snapshot().BroadcastsFailed)
		})
	}
}

func TestService_PublishConcurrentSameHash(t *testing.T) {
	t.Parallel()

	fc := newFakeChain(chain.BTC, 100, 1)
	fc.publishGate = make(chan struct{})
	env := newTestEnv(t, fc)

	validated, err := env.service.Prepare(t.Context(), sendBTC("alice", 10))
	require.NoError(t, err)
	signed, err := env.service.Sign(t.Context(), validated)
	require.NoError(t, err)
	encoded, err := env.service.Encode(signed)
	require.NoError(t, err)

	const callers = 5
	var wg sync.WaitGroup
	hashes := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub, err := env.service.Publish(t.Context(), encoded)
			hashes[i], errs[i] = pub.Hash, err
		}()
	}

	require.Eventually(t, func() bool { return fc.publishCalls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fc.publishGate)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, encoded.Hash, hashes[i])
	}
	assert.Equal(t, int32(1), fc.publishCalls.Load())
	assert.Len(t, fc.committedIDs(), 1)
}

func TestService_PublishSurvivesCanceledCaller(t *testing.T) {
	t.Parallel()

	fc := newFakeChain(chain.BTC, 100, 1)
	fc.publishGate = make(chan struct{})
	env := newTestEnv(t, fc)

	validated, err := env.service.Prepare(t.Context(), sendBTC("alice", 10))
	require.NoError(t, err)
	signed, err := env.service.Sign(t.Context(), validated)
	require.NoError(t, err)
	encoded, err := env.service.Encode(signed)
	require.NoError(t, err)

	firstCtx, cancelFirst := context.WithCancel(t.Context())
	firstErr := make(chan error, 1)
	go func() {
		_, err := env.service.Publish(firstCtx, encoded)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return fc.publishCalls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		pub chain.Published
		err error
	}
	second := make(chan result, 1)
	go func() {
		pub, err := env.service.Publish(t.Context(), encoded)
		second <- result{pub, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(fc.publishGate)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, encoded.Hash, res.pub.Hash)
	assert.Equal(t, int32(1), fc.publishCalls.Load())
	assert.Len(t, fc.committedIDs(), 1)

	again, err := env.service.Publish(t.Context(), encoded)
	require.NoError(t, err)
	assert.True(t, again.Duplicate, "the detached submission recorded its result")
}

func TestService_Decode(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, newFakeChain(chain.BTC, 100, 1))
	validated, err := env.service.Prepare(t.Context(), sendBTC("alice", 10))
	require.NoError(t, err)
	signed, err := env.service.Sign(t.Context(), validated)
	require.NoError(t, err)
	encoded, err := env.service.Encode(signed)
	require.NoError(t, err)

	decoded, err := env.service.DecodeHex(chain.BTC, "0x"+encoded.RawHex)
	require.NoError(t, err)
	assert.Equal(t, signed.Tx.TxHash(), decoded.Tx.TxHash())
	assert.Equal(t, signed.Tx.Summary(), decoded.Tx.Summary())

	reencoded, err := env.service.Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, encoded.Raw, reencoded.Raw)

	_, err = env.service.DecodeHex(chain.BTC, "zz")
	require.ErrorIs(t, err, vaulterr.ErrInvalidInput)

	_, err = env.service.Decode(chain.XLM, encoded.Raw)
	require.ErrorIs(t, err, vaulterr.ErrUnsupportedAsset)
}
