package balance

import (
	"slices"
	"time"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/money"
)

// AccountDetails is the last fetched view of one account.
type AccountDetails struct {
	Currency  chain.Currency
	Address   string
	Balance   money.Value // confirmed
	Pending   money.Value // unconfirmed delta, may be negative
	Reserve   money.Value // part of Balance the ledger keeps locked
	FeeFunds  money.Value // native balance paying token fees; zero for native currencies
	Nonce     uint64
	UTXOs     []chain.UTXO
	FetchedAt time.Time
	Stale     bool // served from a persisted snapshot instead of the network
}

// DetailsFromState converts a ledger read into account details.
func DetailsFromState(state chain.AccountState) AccountDetails {
	d := AccountDetails{
		Currency:  state.Currency,
		Address:   state.Address,
		Balance:   money.New(state.Currency, state.Confirmed),
		Pending:   money.New(state.Currency, state.Pending),
		Reserve:   money.New(state.Currency, state.Reserve),
		FeeFunds:  money.Zero(state.Currency.Chain()),
		Nonce:     state.Nonce,
		UTXOs:     slices.Clone(state.UTXOs),
		FetchedAt: state.FetchedAt,
	}
	if state.Currency.IsToken() {
		d.FeeFunds = money.New(state.Currency.Chain(), state.FeeFunds)
	}
	return d
}

// State converts the details back into the ledger view builders consume.
func (d AccountDetails) State() chain.AccountState {
	state := chain.AccountState{
		Currency:  d.Currency,
		Address:   d.Address,
		Confirmed: d.Balance.Minor(),
		Pending:   d.Pending.Minor(),
		Reserve:   d.Reserve.Minor(),
		Nonce:     d.Nonce,
		UTXOs:     slices.Clone(d.UTXOs),
		FetchedAt: d.FetchedAt,
	}
	if d.Currency.IsToken() {
		state.FeeFunds = d.FeeFunds.Minor()
	}
	return state
}

// Total returns confirmed plus pending.
func (d AccountDetails) Total() money.Value {
	return money.New(d.Currency, d.State().Total())
}

// Spendable returns the total minus the ledger reserve.
func (d AccountDetails) Spendable() money.Value {
	return money.New(d.Currency, d.State().Spendable())
}

// FetchRequest asks for the details of one account.
type FetchRequest struct {
	Currency  chain.Currency
	Address   string
	FromCache bool
	Timeout   time.Duration
}

// FetchResult is the outcome of a FetchRequest. Error is set together with
// Details when a persisted snapshot was served because the fetch failed.
type FetchResult struct {
	Details AccountDetails
	Stale   bool
	Error   error
}

// FetchBatchRequest asks for the details of several accounts concurrently.
type FetchBatchRequest struct {
	Accounts         []FetchRequest
	MaxConcurrent    int
	ProgressCallback ProgressCallback
}

// FetchBatchResult holds one entry per request, in request order. A request
// that failed without a snapshot to fall back on has a nil result.
type FetchBatchResult struct {
	Results []*FetchResult
	Errors  []error
}

// ProgressUpdate reports batch progress.
type ProgressUpdate struct {
	Total     int
	Completed int
	Currency  chain.Currency
	Address   string
}

// ProgressCallback is called after each account of a batch completes.
type ProgressCallback func(ProgressUpdate)
