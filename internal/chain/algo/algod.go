package algo

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"github.com/mrz1836/coinvault/internal/chain"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// Account is the subset of GET /v2/accounts/{address} the wallet reads.
// Amounts are microalgos.
type Account struct {
	Address        string `json:"address"`
	Amount         uint64 `json:"amount"`
	MinBalance     uint64 `json:"min-balance"`
	PendingRewards uint64 `json:"pending-rewards"`
	Round          uint64 `json:"round"`
	Status         string `json:"status"`
}

// TransactionParams is the subset of GET /v2/transactions/params the wallet reads.
type TransactionParams struct {
	Fee         uint64 `json:"fee"` // microalgos per byte, zero when uncongested
	MinFee      uint64 `json:"min-fee"`
	LastRound   uint64 `json:"last-round"`
	GenesisID   string `json:"genesis-id"`
	GenesisHash string `json:"genesis-hash"`
}

// FetchAccount retrieves an account. algod answers for accounts that were
// never funded with a zero amount.
func (c *Client) FetchAccount(ctx context.Context, address string) (Account, error) {
	var acct Account
	err := c.api.GetJSON(ctx, "/v2/accounts/"+url.PathEscape(address)+"?exclude=all", &acct)
	return acct, err
}

// FetchParams retrieves the suggested transaction parameters.
func (c *Client) FetchParams(ctx context.Context) (TransactionParams, error) {
	var params TransactionParams
	err := c.api.GetJSON(ctx, "/v2/transactions/params", &params)
	return params, err
}

// FetchState returns the balance and minimum balance of an account.
func (c *Client) FetchState(ctx context.Context, cur chain.Currency, address string) (chain.AccountState, error) {
	if err := c.supports(cur); err != nil {
		return chain.AccountState{}, err
	}
	if err := c.ValidateAddress(address); err != nil {
		return chain.AccountState{}, err
	}

	acct, err := c.FetchAccount(ctx, address)
	if err != nil {
		return chain.AccountState{}, fmt.Errorf("fetching account: %w", err)
	}
	if acct.Address != "" && acct.Address != address {
		return chain.AccountState{}, vaulterr.WithDetails(vaulterr.ErrDecoding, map[string]string{
			"reason": "algod returned a different account",
			"want":   address,
			"got":    acct.Address,
		})
	}

	reserve := acct.MinBalance
	if acct.Amount == 0 {
		reserve = 0
	}
	c.debug("algo: %s holds %d microalgos at round %d", address, acct.Amount, acct.Round)

	return chain.AccountState{
		Currency:  chain.ALGO,
		Address:   address,
		Confirmed: new(big.Int).SetUint64(acct.Amount),
		Pending:   new(big.Int),
		Reserve:   new(big.Int).SetUint64(reserve),
		FetchedAt: time.Now(),
	}, nil
}

// EstimateFees returns per-transaction fee tiers for a payment. The suggested
// per-byte fee only applies under congestion; otherwise every tier is the
// minimum fee. Priority adds one minimum fee on top of regular.
func (c *Client) EstimateFees(ctx context.Context) (chain.FeeSchedule, error) {
	minFee := uint64(MinTxnFee)
	var perByte uint64

	params, err := c.FetchParams(ctx)
	if err != nil {
		c.logError("algo: transaction params request failed, using minimum fee: %v", err)
	} else {
		if params.MinFee > 0 {
			minFee = params.MinFee
		}
		perByte = params.Fee
	}

	regular := max(minFee, perByte*PaymentTxnSize)
	priority := regular + minFee

	return chain.FeeSchedule{
		Currency:  chain.ALGO,
		Unit:      FeeUnit,
		Low:       new(big.Int).SetUint64(minFee),
		Regular:   new(big.Int).SetUint64(regular),
		Priority:  new(big.Int).SetUint64(priority),
		Minimum:   new(big.Int).SetUint64(minFee),
		FetchedAt: time.Now(),
	}, nil
}
