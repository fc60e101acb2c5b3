package btc

import (
	"context"
	"math"
	"math/big"
	"sort"
	"time"

	"github.com/mrz1836/coinvault/internal/chain"
)

const (
	// DefaultFeeRate is the fallback fee rate in sat/vB when the indexer has no estimate.
	DefaultFeeRate = 2

	// MinFeeRate is the minimum relay fee rate in sat/vB.
	MinFeeRate = 1

	// MaxFeeRate is the maximum reasonable fee rate in sat/vB.
	MaxFeeRate = 500

	// FeeUnit labels UTXO fee rates.
	FeeUnit = "sat/vB"

	// P2PKHInputSize is the size of a P2PKH input in bytes.
	P2PKHInputSize = 148

	// P2PKHOutputSize is the size of a P2PKH output in bytes.
	P2PKHOutputSize = 34

	// TxOverhead is the fixed overhead for a transaction in bytes.
	TxOverhead = 10
)

// Confirmation targets, in blocks, used for each tier.
const (
	targetPriority = 1
	targetRegular  = 6
	targetLow      = 144
)

// EstimateFees returns sat/vB tiers from the indexer's estimates. When the
// indexer is unavailable every tier falls back to the configured default.
func (c *Client) EstimateFees(ctx context.Context) (chain.FeeSchedule, error) {
	estimates, err := c.FeeEstimates(ctx)
	if err != nil {
		c.logError("%s: fee API request failed, using default rate: %v", c.currency.Code, err)
		estimates = nil
	}

	low := c.clampRate(pickEstimate(estimates, targetLow, c.fallback))
	regular := c.clampRate(pickEstimate(estimates, targetRegular, c.fallback))
	priority := c.clampRate(pickEstimate(estimates, targetPriority, c.fallback))

	// Estimates for longer targets are never above shorter ones.
	regular = max(regular, low)
	priority = max(priority, regular)

	c.debug("%s: fee tiers low=%d regular=%d priority=%d sat/vB", c.currency.Code, low, regular, priority)

	return chain.FeeSchedule{
		Currency:  c.currency,
		Unit:      FeeUnit,
		Low:       new(big.Int).SetUint64(low),
		Regular:   new(big.Int).SetUint64(regular),
		Priority:  new(big.Int).SetUint64(priority),
		Minimum:   new(big.Int).SetUint64(c.minRate),
		FetchedAt: time.Now(),
	}, nil
}

// pickEstimate returns the estimate of the nearest target at or above target,
// falling back to the nearest target below it and finally to fallback.
func pickEstimate(estimates map[int]float64, target int, fallback uint64) uint64 {
	if len(estimates) == 0 {
		return fallback
	}

	targets := make([]int, 0, len(estimates))
	for t := range estimates {
		targets = append(targets, t)
	}
	sort.Ints(targets)

	chosen := targets[len(targets)-1]
	for _, t := range targets {
		if t >= target {
			chosen = t
			break
		}
	}

	rate := estimates[chosen]
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fallback
	}
	return uint64(math.Ceil(rate))
}

// clampRate bounds a rate to the configured range.
func (c *Client) clampRate(rate uint64) uint64 {
	return min(max(rate, c.minRate), c.maxRate)
}

// EstimateTxSize estimates the transaction size in bytes.
func EstimateTxSize(numInputs, numOutputs int) uint64 {
	// P2PKH transaction size estimate:
	// - Fixed overhead: 10 bytes (version: 4, locktime: 4, vin count: 1, vout count: 1)
	// - Per input: ~148 bytes (outpoint: 36, scriptSig: 107, sequence: 4)
	// - Per output: ~34 bytes (value: 8, scriptPubKey: 25)
	//nolint:gosec // Safe: transaction sizes are always positive and within bounds
	return uint64(TxOverhead + (numInputs * P2PKHInputSize) + (numOutputs * P2PKHOutputSize))
}

// EstimateFeeForTx estimates the fee in satoshis for a transaction with the
// given shape at feeRate sat/vB.
func EstimateFeeForTx(numInputs, numOutputs int, feeRate uint64) uint64 {
	return EstimateTxSize(numInputs, numOutputs) * feeRate
}
