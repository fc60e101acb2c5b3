package cli

import (
	"github.com/mrz1836/coinvault/internal/config"
	"github.com/mrz1836/coinvault/internal/service/balance"
	"github.com/mrz1836/coinvault/internal/service/receive"
	"github.com/mrz1836/coinvault/internal/service/transaction"
)

// The services declare the narrow collaborators they need; these checks keep
// the CLI's concrete types in step with them.
var (
	_ balance.ConfigProvider         = (*config.Config)(nil)
	_ balance.LogWriter              = (*config.Logger)(nil)
	_ receive.KeySource              = (*KeyLoader)(nil)
	_ receive.LogWriter              = (*config.Logger)(nil)
	_ transaction.KeySource          = (*KeyLoader)(nil)
	_ transaction.BalanceInvalidator = (*balance.Service)(nil)
	_ transaction.LogWriter          = (*config.Logger)(nil)
	_ LogWriter                      = (*config.Logger)(nil)
)

// LogWriter is the logging surface handed to every service. It is satisfied
// by *config.Logger and by nil-safe test doubles.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}
