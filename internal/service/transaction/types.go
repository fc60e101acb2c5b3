package transaction

import (
	"math/big"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/money"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// SendRequest represents a transfer out of one non-custodial account.
type SendRequest struct {
	From          string
	To            string
	Amount        money.Value // its currency selects the pipeline
	Tier          chain.FeeTier
	Memo          string
	ChangeAddress string // UTXO chains only
}

// Currency returns the currency being sent.
func (r SendRequest) Currency() chain.Currency {
	return r.Amount.Currency
}

// validate rejects requests that cannot reach a builder.
func (r SendRequest) validate() error {
	if r.Amount.Currency.IsZero() {
		return vaulterr.ErrAmountRequired
	}
	if !r.Amount.IsPositive() {
		return vaulterr.WithDetails(vaulterr.ErrInvalidAmount, map[string]string{
			"amount": r.Amount.String(),
			"reason": "amount must be greater than zero",
		})
	}
	if r.From == "" {
		return vaulterr.WithDetails(vaulterr.ErrInvalidAddress, map[string]string{"field": "from"})
	}
	if r.To == "" {
		return vaulterr.WithDetails(vaulterr.ErrInvalidAddress, map[string]string{"field": "to"})
	}
	return nil
}

func (r SendRequest) buildRequest() chain.BuildRequest {
	return chain.BuildRequest{
		Currency:      r.Amount.Currency,
		From:          r.From,
		To:            r.To,
		Amount:        r.Amount.Minor(),
		Tier:          r.Tier,
		Memo:          r.Memo,
		ChangeAddress: r.ChangeAddress,
	}
}

// Reason is why the validator rejected a candidate.
type Reason string

// Rejection reasons. The set is closed.
const (
	ReasonInsufficientFunds  Reason = "insufficientFunds"
	ReasonFeeTooLow          Reason = "feeTooLow"
	ReasonAddressUnreachable Reason = "addressUnreachable"
)

// Verdict is the outcome of evaluating a candidate.
type Verdict struct {
	Accepted bool
	Reason   Reason // empty when accepted
	// Spendable is the balance of the fee currency minus the fee. It is set
	// for accepted candidates and for rejections where it is known.
	Spendable *big.Int
	Details   map[string]string
}

// Err converts a rejection into its typed error. Accepted verdicts return nil.
func (v Verdict) Err() error {
	if v.Accepted {
		return nil
	}
	var sentinel *vaulterr.WalletError
	switch v.Reason {
	case ReasonInsufficientFunds:
		sentinel = vaulterr.ErrInsufficientFunds
	case ReasonFeeTooLow:
		sentinel = vaulterr.ErrFeeTooLow
	case ReasonAddressUnreachable:
		sentinel = vaulterr.ErrAddressUnreachable
	default:
		sentinel = vaulterr.ErrStageMismatch
	}
	if len(v.Details) == 0 {
		return sentinel
	}
	return vaulterr.WithDetails(sentinel, v.Details)
}

// Facts is the account and network state a candidate is evaluated against.
type Facts struct {
	Balance  *big.Int // spendable balance of the candidate currency
	FeeFunds *big.Int // native balance paying the fee of a token transfer
	// DestinationMissing is set when the chain reports the destination cannot
	// receive a plain payment yet.
	DestinationMissing bool
}

// FactsFromState derives evaluation facts from fetched account state.
func FactsFromState(s chain.AccountState) Facts {
	f := Facts{Balance: s.Spendable()}
	if s.FeeFunds != nil {
		f.FeeFunds = new(big.Int).Set(s.FeeFunds)
	}
	return f
}
