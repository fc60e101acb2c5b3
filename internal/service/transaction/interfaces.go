package transaction

import (
	"context"

	"github.com/mrz1836/coinvault/internal/chain"
)

// KeySource supplies the key pair that controls an address.
// Satisfied by *keys.Source.
type KeySource interface {
	Find(cur chain.Currency, address string, limit uint32) (chain.KeyPair, uint32, error)
}

// BalanceInvalidator drops cached account details after a broadcast.
// Satisfied by *balance.Service.
type BalanceInvalidator interface {
	Invalidate(ctx context.Context, cur chain.Currency, address string)
}

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}
