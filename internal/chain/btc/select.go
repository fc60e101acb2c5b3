package btc

import (
	"slices"
	"strconv"

	"github.com/samber/lo"

	"github.com/mrz1836/coinvault/internal/chain"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// Selection is the outcome of coin selection.
type Selection struct {
	Inputs []chain.UTXO
	Total  uint64
	Fee    uint64
	Change uint64 // zero when the remainder was folded into the fee
}

// Outputs returns the number of outputs the transaction will carry.
func (s Selection) Outputs() int {
	if s.Change > 0 {
		return 2
	}
	return 1
}

// SelectCoins funds amount at feeRate sat/vB. It compares the smallest single
// output that covers the payment with largest-first accumulation and keeps
// whichever leaves less change. Change below dust is folded into the fee.
func SelectCoins(utxos []chain.UTXO, amount, feeRate, dust uint64) (Selection, error) {
	if len(utxos) == 0 {
		return Selection{}, vaulterr.ErrNoUTXOs
	}

	sorted := slices.Clone(utxos)
	slices.SortStableFunc(sorted, func(a, b chain.UTXO) int {
		switch {
		case a.Amount > b.Amount:
			return -1
		case a.Amount < b.Amount:
			return 1
		default:
			return 0
		}
	})

	var best Selection
	found := false
	consider := func(inputs []chain.UTXO) {
		sel, ok := finalize(inputs, amount, feeRate, dust)
		if !ok {
			return
		}
		if !found || sel.Change < best.Change ||
			(sel.Change == best.Change && len(sel.Inputs) < len(best.Inputs)) {
			best, found = sel, true
		}
	}

	// Smallest single output that pays for everything.
	for i := len(sorted) - 1; i >= 0; i-- {
		if _, ok := finalize(sorted[i:i+1], amount, feeRate, dust); ok {
			consider(sorted[i : i+1])
			break
		}
	}

	// Largest-first accumulation.
	for n := 1; n <= len(sorted); n++ {
		if _, ok := finalize(sorted[:n], amount, feeRate, dust); ok {
			consider(sorted[:n])
			break
		}
	}

	if !found {
		total := lo.SumBy(utxos, func(u chain.UTXO) uint64 { return u.Amount })
		need := amount + EstimateFeeForTx(len(utxos), 1, feeRate)
		return Selection{}, vaulterr.WithDetails(vaulterr.ErrInsufficientFunds, map[string]string{
			"need": strconv.FormatUint(need, 10),
			"have": strconv.FormatUint(total, 10),
		})
	}
	return best, nil
}

// finalize prices a fixed input set, adding a change output only when the
// remainder is at least dust.
func finalize(inputs []chain.UTXO, amount, feeRate, dust uint64) (Selection, bool) {
	total := lo.SumBy(inputs, func(u chain.UTXO) uint64 { return u.Amount })
	n := len(inputs)

	withChange := EstimateFeeForTx(n, 2, feeRate)
	if total >= amount+withChange && total-amount-withChange >= dust {
		return Selection{
			Inputs: slices.Clone(inputs),
			Total:  total,
			Fee:    withChange,
			Change: total - amount - withChange,
		}, true
	}

	single := EstimateFeeForTx(n, 1, feeRate)
	if total >= amount+single {
		return Selection{
			Inputs: slices.Clone(inputs),
			Total:  total,
			Fee:    total - amount,
		}, true
	}
	return Selection{}, false
}
