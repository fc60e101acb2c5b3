package transaction

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mrz1836/coinvault/internal/chain"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// fakeTx is the signed transaction produced by fakeChain.
type fakeTx struct {
	cur    chain.Currency
	hash   string
	to     string
	amount *big.Int
}

func (t *fakeTx) Currency() chain.Currency { return t.cur }
func (t *fakeTx) TxHash() string           { return t.hash }
func (t *fakeTx) Summary() chain.TxSummary {
	return chain.TxSummary{To: t.to, Amount: new(big.Int).Set(t.amount)}
}

// fakeChain implements every pipeline capability in memory. With UTXOs set
// it claims one output per candidate the way a UTXO builder does.
type fakeChain struct {
	cur chain.Currency

	mu        sync.Mutex
	balance   *big.Int
	feeFunds  *big.Int
	fee       *big.Int
	minimum   *big.Int
	utxos     []chain.UTXO
	claimed   map[string]string // outpoint -> candidate ID
	released  []string
	committed []string
	missing   map[string]bool // destinations that do not exist yet

	publishErr   error
	publishGate  chan struct{}
	publishCalls atomic.Int32
	builds       atomic.Int32

	onFetch func(from string) error
	onBuild func()
}

func newFakeChain(cur chain.Currency, balance, fee int64) *fakeChain {
	return &fakeChain{
		cur:     cur,
		balance: big.NewInt(balance),
		fee:     big.NewInt(fee),
		claimed: make(map[string]string),
		missing: make(map[string]bool),
	}
}

func (f *fakeChain) capabilities() chain.Capabilities {
	return chain.Capabilities{
		Addresses:    f,
		Balances:     f,
		Fees:         f,
		Builder:      f,
		Signer:       f,
		Encoder:      f,
		Broadcaster:  f,
		Reservations: f,
		Destinations: f,
	}
}

func (f *fakeChain) ValidateAddress(address string) error {
	if address == "" || strings.HasPrefix(address, "bad") {
		return vaulterr.WithDetails(vaulterr.ErrInvalidAddress, map[string]string{"address": address})
	}
	return nil
}

func (f *fakeChain) FetchState(_ context.Context, cur chain.Currency, address string) (chain.AccountState, error) {
	if f.onFetch != nil {
		if err := f.onFetch(address); err != nil {
			return chain.AccountState{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	state := chain.AccountState{
		Currency:  cur,
		Address:   address,
		Confirmed: new(big.Int).Set(f.balance),
		UTXOs:     append([]chain.UTXO(nil), f.utxos...),
	}
	if f.feeFunds != nil {
		state.FeeFunds = new(big.Int).Set(f.feeFunds)
	}
	return state, nil
}

func (f *fakeChain) EstimateFees(context.Context) (chain.FeeSchedule, error) {
	return chain.FeeSchedule{
		Currency: f.cur.Chain(),
		Unit:     "unit",
		Low:      big.NewInt(1),
		Regular:  big.NewInt(2),
		Priority: big.NewInt(3),
		Minimum:  f.minimum,
	}, nil
}

func (f *fakeChain) Reachable(_ context.Context, _ chain.Currency, address string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.missing[address], nil
}

func (f *fakeChain) Build(req chain.BuildRequest, state chain.AccountState, fees chain.FeeSchedule) (chain.Candidate, error) {
	if f.onBuild != nil {
		f.onBuild()
	}
	if err := f.ValidateAddress(req.To); err != nil {
		return chain.Candidate{}, err
	}
	rate, err := fees.Rate(req.Tier)
	if err != nil {
		return chain.Candidate{}, err
	}
	n := f.builds.Add(1)
	cand := chain.Candidate{
		Currency: req.Currency,
		From:     req.From,
		To:       req.To,
		Amount:   new(big.Int).Set(req.Amount),
		Tier:     req.Tier,
		FeeRate:  rate,
		Fee:      new(big.Int).Set(f.fee),
		Memo:     req.Memo,
		Nonce:    uint64(n),
	}
	if len(state.UTXOs) == 0 {
		return cand, nil
	}

	cand.ID = "cand-" + strconv.Itoa(int(n))
	need := new(big.Int).Add(req.Amount, f.fee)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range state.UTXOs {
		if _, taken := f.claimed[u.Key()]; taken {
			continue
		}
		if new(big.Int).SetUint64(u.Amount).Cmp(need) < 0 {
			continue
		}
		f.claimed[u.Key()] = cand.ID
		cand.Inputs = []chain.UTXO{u}
		return cand, nil
	}
	return chain.Candidate{}, vaulterr.ErrNoUTXOs
}

func (f *fakeChain) Release(c chain.Candidate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range c.Inputs {
		delete(f.claimed, u.Key())
	}
	f.released = append(f.released, c.ID)
}

func (f *fakeChain) Commit(c chain.Candidate, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, c.ID)
}

func (f *fakeChain) Sign(v chain.Validated, key chain.KeyPair) (chain.Signed, error) {
	if key.Curve != chain.CurveSecp256k1 || len(key.Private) == 0 {
		return chain.Signed{}, vaulterr.WithDetails(vaulterr.ErrSigningFailed, map[string]string{"reason": "wrong curve"})
	}
	c := v.Candidate
	return chain.Signed{
		Validated: v,
		Tx: &fakeTx{
			cur:    c.Currency,
			hash:   "hash-" + c.ID,
			to:     c.To,
			amount: new(big.Int).Set(c.Amount),
		},
	}, nil
}

func (f *fakeChain) Encode(s chain.Signed) (chain.Encoded, error) {
	tx, ok := s.Tx.(*fakeTx)
	if !ok {
		return chain.Encoded{}, vaulterr.ErrEncoding
	}
	raw := []byte(tx.hash + "|" + tx.to + "|" + tx.amount.String())
	return chain.Encoded{Signed: s, Raw: raw, RawHex: hex.EncodeToString(raw), Hash: tx.hash}, nil
}

func (f *fakeChain) Decode(raw []byte) (chain.Signed, error) {
	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 {
		return chain.Signed{}, vaulterr.ErrDecoding
	}
	amount, ok := new(big.Int).SetString(parts[2], 10)
	if !ok {
		return chain.Signed{}, vaulterr.ErrDecoding
	}
	return chain.Signed{Tx: &fakeTx{cur: f.cur, hash: parts[0], to: parts[1], amount: amount}}, nil
}

func (f *fakeChain) Publish(ctx context.Context, e chain.Encoded) (chain.Published, error) {
	f.publishCalls.Add(1)
	if f.publishGate != nil {
		select {
		case <-f.publishGate:
		case <-ctx.Done():
			return chain.Published{}, ctx.Err()
		}
	}
	if f.publishErr != nil {
		return chain.Published{}, f.publishErr
	}
	return chain.Published{Encoded: e, Hash: e.Hash}, nil
}

func (f *fakeChain) releasedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

func (f *fakeChain) committedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.committed...)
}

// fakeKeys hands out a secp256k1 pair and remembers it so tests can check
// that it was zeroed.
type fakeKeys struct {
	mu     sync.Mutex
	issued [][]byte
	err    error
}

func (k *fakeKeys) Find(_ chain.Currency, _ string, _ uint32) (chain.KeyPair, uint32, error) {
	if k.err != nil {
		return chain.KeyPair{}, 0, k.err
	}
	priv := []byte{1, 2, 3, 4}
	k.mu.Lock()
	k.issued = append(k.issued, priv)
	k.mu.Unlock()
	return chain.KeyPair{Curve: chain.CurveSecp256k1, Private: priv, Public: []byte{9}}, 0, nil
}

// fakeInvalidator records invalidated accounts.
type fakeInvalidator struct {
	mu  sync.Mutex
	got []string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, cur chain.Currency, address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, cur.Key()+":"+address)
}

func (f *fakeInvalidator) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.got...)
}

var errFetchSerialized = errors.New("fetches were serialized")
