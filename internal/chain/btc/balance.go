package btc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/mrz1836/coinvault/internal/chain"
)

// FetchState returns the confirmed balance, mempool delta and spendable
// outputs of address. Outputs claimed by in-flight transactions are left out.
func (c *Client) FetchState(ctx context.Context, cur chain.Currency, address string) (chain.AccountState, error) {
	if err := c.supports(cur); err != nil {
		return chain.AccountState{}, err
	}
	if err := c.ValidateAddress(address); err != nil {
		return chain.AccountState{}, err
	}

	info, err := c.AddressInfo(ctx, address)
	if err != nil {
		return chain.AccountState{}, fmt.Errorf("getting address stats: %w", err)
	}

	utxos, err := c.ListUTXOs(ctx, address)
	if err != nil {
		return chain.AccountState{}, fmt.Errorf("listing utxos: %w", err)
	}

	if removed, err := c.store.Prune(cur, address, utxos); err != nil {
		c.logError("%s: pruning spent outputs of %s: %v", cur.Code, address, err)
	} else if removed > 0 {
		c.debug("%s: pruned %d settled outputs of %s", cur.Code, removed, address)
	}

	return chain.AccountState{
		Currency:  cur,
		Address:   address,
		Confirmed: big.NewInt(info.ChainStats.Balance()),
		Pending:   big.NewInt(info.MempoolStats.Balance()),
		UTXOs:     c.store.Available(cur, utxos),
		FetchedAt: time.Now(),
	}, nil
}
