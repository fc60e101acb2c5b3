package xlm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/money"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// FetchState returns the native balance, base reserve and current sequence
// number of an account. An account that does not exist yet has a zero balance.
func (c *Client) FetchState(ctx context.Context, cur chain.Currency, address string) (chain.AccountState, error) {
	if err := c.supports(cur); err != nil {
		return chain.AccountState{}, err
	}
	if err := c.ValidateAddress(address); err != nil {
		return chain.AccountState{}, err
	}

	acct, found, err := c.FetchAccount(ctx, address)
	if err != nil {
		return chain.AccountState{}, fmt.Errorf("fetching account: %w", err)
	}

	state := chain.AccountState{
		Currency:  chain.XLM,
		Address:   address,
		Confirmed: new(big.Int),
		Pending:   new(big.Int),
		Reserve:   new(big.Int),
		FetchedAt: time.Now(),
	}
	if !found {
		return state, nil
	}

	seq, err := parseStroops(acct.Sequence)
	if err != nil || seq < 0 {
		return chain.AccountState{}, vaulterr.WithDetails(vaulterr.ErrDecoding, map[string]string{
			"field": "sequence",
			"value": acct.Sequence,
		})
	}
	state.Nonce = uint64(seq)

	for _, b := range acct.Balances {
		if b.AssetType != "native" {
			continue
		}
		bal, err := money.Parse(chain.XLM, b.Balance)
		if err != nil {
			return chain.AccountState{}, vaulterr.WithDetails(vaulterr.WithCause(vaulterr.ErrDecoding, err), map[string]string{
				"field": "balance",
				"value": b.Balance,
			})
		}
		state.Confirmed = bal.Minor()

		if b.SellingLiabilities != "" {
			liab, err := money.Parse(chain.XLM, b.SellingLiabilities)
			if err == nil {
				state.Reserve.Add(state.Reserve, liab.Minor())
			}
		}
	}
	state.Reserve.Add(state.Reserve, MinimumBalance(acct))
	return state, nil
}

// MinimumBalance returns the stroops an account must keep:
// (2 + subentries + sponsoring - sponsored) base reserves.
func MinimumBalance(acct HorizonAccount) *big.Int {
	entries := int64(2) + int64(acct.SubentryCount) + int64(acct.NumSponsoring) - int64(acct.NumSponsored)
	if entries < 0 {
		entries = 0
	}
	return big.NewInt(entries * BaseReserve)
}

// Reachable reports whether the destination account exists. Payments to a
// missing account fail on the ledger.
func (c *Client) Reachable(ctx context.Context, cur chain.Currency, address string) (bool, error) {
	if err := c.supports(cur); err != nil {
		return false, err
	}
	if err := c.ValidateAddress(address); err != nil {
		return false, err
	}
	_, found, err := c.FetchAccount(ctx, address)
	return found, err
}
