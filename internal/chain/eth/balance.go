package eth

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/chain/eth/rpc"
)

// ERC-20 balanceOf selector: keccak256("balanceOf(address)")[0:4]
//
//nolint:gochecknoglobals // ERC-20 constant
var erc20BalanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// FetchState returns the balance, pending delta and next nonce of address.
// For tokens the native ETH balance is reported as FeeFunds.
func (c *Client) FetchState(ctx context.Context, cur chain.Currency, address string) (chain.AccountState, error) {
	if err := c.supports(cur); err != nil {
		return chain.AccountState{}, err
	}
	if err := ValidateChecksumAddress(address); err != nil {
		return chain.AccountState{}, err
	}

	native, err := c.rpc.GetBalance(ctx, address, "latest")
	if err != nil {
		return chain.AccountState{}, fmt.Errorf("getting balance: %w", err)
	}

	nonce, err := c.rpc.GetTransactionCount(ctx, address, "pending")
	if err != nil {
		return chain.AccountState{}, fmt.Errorf("getting nonce: %w", err)
	}

	state := chain.AccountState{
		Currency:  cur,
		Address:   address,
		Nonce:     nonce,
		FetchedAt: time.Now(),
	}

	if !cur.IsToken() {
		state.Confirmed = native
		state.Pending = c.pendingDelta(ctx, address, native)
		return state, nil
	}

	tokenBalance, err := c.TokenBalance(ctx, address, cur.Contract)
	if err != nil {
		return chain.AccountState{}, err
	}
	state.Confirmed = tokenBalance
	state.Pending = new(big.Int)
	state.FeeFunds = native
	return state, nil
}

// pendingDelta returns pending minus latest balance. Failure is non-fatal
// since pending data is optional.
func (c *Client) pendingDelta(ctx context.Context, address string, latest *big.Int) *big.Int {
	pending, err := c.rpc.GetBalance(ctx, address, "pending")
	if err != nil {
		c.debug("eth: pending balance unavailable for %s: %v", address, err)
		return new(big.Int)
	}
	return new(big.Int).Sub(pending, latest)
}

// TokenBalance retrieves the ERC-20 token balance for an address.
func (c *Client) TokenBalance(ctx context.Context, address, contract string) (*big.Int, error) {
	if err := ValidateChecksumAddress(contract); err != nil {
		return nil, err
	}

	data := make([]byte, 0, 36)
	data = append(data, erc20BalanceOfSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32)...)

	result, err := c.rpc.EthCall(ctx, rpc.CallMsg{To: contract, Data: data}, "latest")
	if err != nil {
		return nil, fmt.Errorf("calling balanceOf: %w", err)
	}

	// A contract that is not deployed returns empty data.
	if len(result) < 32 {
		return new(big.Int), nil
	}
	return new(big.Int).SetBytes(result[:32]), nil
}
