package transaction

import (
	"math/big"

	"github.com/mrz1836/coinvault/internal/chain"
)

// AddressLookup resolves the address validator of a currency.
// Satisfied by *chain.Registry.
type AddressLookup interface {
	Addresses(c chain.Currency) (chain.AddressValidator, error)
}

// Validator evaluates candidates against balance and fee facts. Evaluate
// does no I/O and keeps no state, so it is safe for concurrent use.
type Validator struct {
	addresses AddressLookup
}

// NewValidator creates a validator. With a nil lookup the destination format
// is not re-checked.
func NewValidator(addresses AddressLookup) *Validator {
	return &Validator{addresses: addresses}
}

// Evaluate accepts or rejects a candidate.
//
// Spendable is the fee-currency balance minus the fee. A balance equal to the
// fee is accepted with zero spendable. For native transfers the amount must
// fit in spendable; for token transfers the amount must fit in the token
// balance while the fee is paid from FeeFunds.
func (v *Validator) Evaluate(c chain.Candidate, facts Facts, fees chain.FeeSchedule) Verdict {
	if verdict, ok := v.checkDestination(c, facts); !ok {
		return verdict
	}
	if verdict, ok := checkFee(c, fees); !ok {
		return verdict
	}

	fee := c.Fee
	amount := orZero(c.Amount)
	feeFunds := orZero(facts.Balance)
	if c.Currency.IsToken() {
		feeFunds = orZero(facts.FeeFunds)
	}

	spendable := new(big.Int).Sub(feeFunds, fee)
	if spendable.Sign() < 0 {
		return insufficient(c.FeeCurrency(), fee, feeFunds, "balance does not cover the fee")
	}

	if c.Currency.IsToken() {
		balance := orZero(facts.Balance)
		if amount.Cmp(balance) > 0 {
			return insufficient(c.Currency, amount, balance, "token balance does not cover the amount")
		}
	} else if amount.Cmp(spendable) > 0 {
		verdict := insufficient(c.Currency, new(big.Int).Add(amount, fee), feeFunds, "balance does not cover amount plus fee")
		verdict.Spendable = spendable
		return verdict
	}

	return Verdict{Accepted: true, Spendable: spendable}
}

func (v *Validator) checkDestination(c chain.Candidate, facts Facts) (Verdict, bool) {
	if facts.DestinationMissing {
		return unreachable(c.To, "destination account does not exist"), false
	}
	if v.addresses == nil {
		return Verdict{}, true
	}
	av, err := v.addresses.Addresses(c.Currency)
	if err != nil && c.Currency.IsToken() {
		av, err = v.addresses.Addresses(c.Currency.Chain())
	}
	if err != nil {
		return unreachable(c.To, "no address validator for "+c.Currency.Code), false
	}
	if err := av.ValidateAddress(c.To); err != nil {
		return unreachable(c.To, err.Error()), false
	}
	return Verdict{}, true
}

func checkFee(c chain.Candidate, fees chain.FeeSchedule) (Verdict, bool) {
	tooLow := func(details map[string]string) Verdict {
		return Verdict{Reason: ReasonFeeTooLow, Details: details}
	}
	if c.Fee == nil || c.Fee.Sign() < 0 {
		return tooLow(map[string]string{"reason": "candidate carries no fee"}), false
	}
	if !fees.Currency.IsZero() && fees.Currency != c.FeeCurrency() {
		return tooLow(map[string]string{
			"reason":   "fee schedule is for another chain",
			"schedule": fees.Currency.Code,
		}), false
	}
	if fees.Minimum == nil {
		return Verdict{}, true
	}
	if c.FeeRate == nil || c.FeeRate.Cmp(fees.Minimum) < 0 {
		return tooLow(map[string]string{
			"rate":    orZero(c.FeeRate).String(),
			"minimum": fees.Minimum.String(),
			"unit":    fees.Unit,
		}), false
	}
	return Verdict{}, true
}

func insufficient(cur chain.Currency, required, available *big.Int, reason string) Verdict {
	return Verdict{
		Reason: ReasonInsufficientFunds,
		Details: map[string]string{
			"currency":  cur.Code,
			"required":  required.String(),
			"available": available.String(),
			"reason":    reason,
		},
	}
}

func unreachable(address, reason string) Verdict {
	return Verdict{
		Reason:  ReasonAddressUnreachable,
		Details: map[string]string{"address": address, "reason": reason},
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
