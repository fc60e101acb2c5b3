package chain

import (
	"context"
	"sync"

	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// AddressValidator checks an address for one chain.
type AddressValidator interface {
	// ValidateAddress returns an input-class error for malformed or wrong-chain addresses.
	ValidateAddress(address string) error
}

// BalanceFetcher reads account state from a remote ledger or indexer.
type BalanceFetcher interface {
	// FetchState returns balance, pending delta, nonce/sequence and spendable outputs.
	FetchState(ctx context.Context, currency Currency, address string) (AccountState, error)
}

// FeeEstimator returns the current fee tiers of a chain.
type FeeEstimator interface {
	EstimateFees(ctx context.Context) (FeeSchedule, error)
}

// Builder assembles an unsigned candidate from account state and a fee schedule.
// Builders do no network I/O. A builder may claim inputs or nonces that the
// caller later releases or commits through Reservations.
type Builder interface {
	Build(req BuildRequest, state AccountState, fees FeeSchedule) (Candidate, error)
}

// Signer signs a validated candidate with a key pair.
type Signer interface {
	Sign(v Validated, key KeyPair) (Signed, error)
}

// Encoder converts signed transactions to and from canonical wire bytes.
type Encoder interface {
	Encode(s Signed) (Encoded, error)
	Decode(raw []byte) (Signed, error)
}

// Broadcaster submits an encoded transaction. Exactly one submission is made per call.
type Broadcaster interface {
	Publish(ctx context.Context, e Encoded) (Published, error)
}

// DestinationChecker reports whether a destination can receive a payment
// without extra setup, e.g. a Stellar account that has not been created yet.
type DestinationChecker interface {
	Reachable(ctx context.Context, currency Currency, address string) (bool, error)
}

// Reservations tracks the inputs or nonces a builder claimed for a candidate.
// Release returns them when the candidate is abandoned; Commit marks them
// consumed by the transaction with the given hash once the network accepted it.
type Reservations interface {
	Release(c Candidate)
	Commit(c Candidate, hash string)
}

// Capabilities is the set of components registered for one currency.
// Currencies that cannot transact leave the pipeline fields nil.
type Capabilities struct {
	Addresses    AddressValidator
	Balances     BalanceFetcher
	Fees         FeeEstimator
	Builder      Builder
	Signer       Signer
	Encoder      Encoder
	Broadcaster  Broadcaster
	Reservations Reservations       // optional
	Destinations DestinationChecker // optional, every destination is reachable when nil
}

// Registry maps currencies to their capabilities. It is built once per
// session graph and is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[Currency]Capabilities
	order   []Currency
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[Currency]Capabilities),
	}
}

// Register adds or replaces the capabilities of a currency.
func (r *Registry) Register(c Currency, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[c]; !exists {
		r.order = append(r.order, c)
	}
	r.entries[c] = caps
}

// Lookup returns the capabilities registered for a currency.
func (r *Registry) Lookup(c Currency) (Capabilities, error) {
	r.mu.RLock()
	caps, ok := r.entries[c]
	r.mu.RUnlock()

	if !ok {
		return Capabilities{}, unsupported(c, "any")
	}
	return caps, nil
}

// IsSupported returns true if the currency has registered capabilities.
func (r *Registry) IsSupported(c Currency) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[c]
	return ok
}

// Currencies returns registered currencies in registration order.
func (r *Registry) Currencies() []Currency {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Currency, len(r.order))
	copy(out, r.order)
	return out
}

// Addresses returns the address validator of a currency.
func (r *Registry) Addresses(c Currency) (AddressValidator, error) {
	caps, err := r.Lookup(c)
	if err != nil {
		return nil, err
	}
	if caps.Addresses == nil {
		return nil, unsupported(c, "address validation")
	}
	return caps.Addresses, nil
}

// Balances returns the balance fetcher of a currency.
func (r *Registry) Balances(c Currency) (BalanceFetcher, error) {
	caps, err := r.Lookup(c)
	if err != nil {
		return nil, err
	}
	if caps.Balances == nil {
		return nil, unsupported(c, "balance fetch")
	}
	return caps.Balances, nil
}

// Fees returns the fee estimator of a currency.
func (r *Registry) Fees(c Currency) (FeeEstimator, error) {
	caps, err := r.Lookup(c)
	if err != nil {
		return nil, err
	}
	if caps.Fees == nil {
		return nil, unsupported(c, "fee estimation")
	}
	return caps.Fees, nil
}

// Pipeline returns the full build/sign/encode/publish set of a currency.
func (r *Registry) Pipeline(c Currency) (Capabilities, error) {
	caps, err := r.Lookup(c)
	if err != nil {
		return Capabilities{}, err
	}
	if caps.Addresses == nil || caps.Balances == nil || caps.Fees == nil ||
		caps.Builder == nil || caps.Signer == nil || caps.Encoder == nil || caps.Broadcaster == nil {
		return Capabilities{}, unsupported(c, "send")
	}
	return caps, nil
}

func unsupported(c Currency, operation string) error {
	return vaulterr.WithDetails(vaulterr.ErrUnsupportedAsset, map[string]string{
		"currency":  c.Code,
		"operation": operation,
	})
}
