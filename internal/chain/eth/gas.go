package eth

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/mrz1836/coinvault/internal/chain"
)

const (
	// GasLimitETHTransfer is the gas limit for standard ETH transfers.
	GasLimitETHTransfer uint64 = 21000
	// GasLimitERC20Transfer is the typical gas limit for ERC-20 transfers.
	GasLimitERC20Transfer uint64 = 65000

	// slowPercent reduces gas price by 20% for the low tier.
	slowPercent = 80
	// fastPercent increases gas price by 20% for the priority tier.
	fastPercent = 120

	// GasUnit labels ETH fee rates.
	GasUnit = "wei/gas"
)

// EstimateFees returns gas price tiers derived from the node's suggested price.
// The schedule minimum is the latest block's base fee, below which a legacy
// transaction cannot be included.
func (c *Client) EstimateFees(ctx context.Context) (chain.FeeSchedule, error) {
	suggested, err := c.rpc.GasPrice(ctx)
	if err != nil {
		return chain.FeeSchedule{}, fmt.Errorf("getting suggested gas price: %w", err)
	}

	baseFee, err := c.rpc.BaseFee(ctx)
	if err != nil {
		// The floor is advisory; tiers are still usable without it.
		c.logError("eth: base fee unavailable: %v", err)
		baseFee = nil
	}

	low := scalePercent(suggested, slowPercent)
	if baseFee != nil && low.Cmp(baseFee) < 0 {
		low = new(big.Int).Set(baseFee)
	}

	return chain.FeeSchedule{
		Currency:  chain.ETH,
		Unit:      GasUnit,
		Low:       low,
		Regular:   suggested,
		Priority:  scalePercent(suggested, fastPercent),
		Minimum:   baseFee,
		FetchedAt: time.Now(),
	}, nil
}

// GasLimitFor returns the gas limit used for transfers of cur.
func GasLimitFor(cur chain.Currency) uint64 {
	if cur.IsToken() {
		return GasLimitERC20Transfer
	}
	return GasLimitETHTransfer
}

// FormatGasPrice formats a gas price in wei to a human-readable Gwei string.
func FormatGasPrice(weiPrice *big.Int) string {
	if weiPrice == nil {
		return "0 Gwei"
	}

	gwei := new(big.Float).SetInt(weiPrice)
	gwei.Quo(gwei, new(big.Float).SetInt64(1_000_000_000))

	return fmt.Sprintf("%.2f Gwei", gwei)
}

// scalePercent returns n * percent / 100, truncated.
func scalePercent(n *big.Int, percent int64) *big.Int {
	out := new(big.Int).Mul(n, big.NewInt(percent))
	return out.Quo(out, big.NewInt(100))
}
