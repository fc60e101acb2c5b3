package xlm

import (
	"context"
	"math/big"
	"time"

	"github.com/mrz1836/coinvault/internal/chain"
)

// EstimateFees returns per-operation tiers from Horizon fee statistics. The
// base fee of the last ledger is the floor. When Horizon is unavailable every
// tier is the protocol minimum.
func (c *Client) EstimateFees(ctx context.Context) (chain.FeeSchedule, error) {
	base, mode, p90 := int64(DefaultBaseFee), int64(DefaultBaseFee), int64(DefaultBaseFee)

	stats, err := c.FetchFeeStats(ctx)
	if err != nil {
		c.logError("xlm: fee_stats request failed, using base fee: %v", err)
	} else {
		base = statOr(stats.LastLedgerBaseFee, base)
		mode = statOr(stats.FeeCharged.Mode, base)
		p90 = statOr(stats.FeeCharged.P90, mode)
	}

	low := base
	regular := max(mode, low)
	priority := max(p90, regular)

	c.debug("xlm: fee tiers low=%d regular=%d priority=%d stroops/op", low, regular, priority)

	return chain.FeeSchedule{
		Currency:  chain.XLM,
		Unit:      FeeUnit,
		Low:       big.NewInt(low),
		Regular:   big.NewInt(regular),
		Priority:  big.NewInt(priority),
		Minimum:   big.NewInt(base),
		FetchedAt: time.Now(),
	}, nil
}

// statOr parses a fee statistic, using fallback when it is missing or invalid.
func statOr(s string, fallback int64) int64 {
	v, err := parseStroops(s)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
