package receive

import (
	"github.com/mrz1836/coinvault/internal/chain"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// ErrKeySourceRequired indicates address derivation without a key source.
var ErrKeySourceRequired = &vaulterr.WalletError{
	Code:       "KEY_SOURCE_REQUIRED",
	Message:    "a key source is required to derive addresses",
	Class:      vaulterr.ClassInput,
	Suggestion: "provide a mnemonic with COINVAULT_MNEMONIC or the interactive prompt",
	ExitCode:   vaulterr.ExitInput,
}

// AddressInfo describes a derived receive address.
type AddressInfo struct {
	Currency    chain.Currency
	Address     string
	Index       uint32
	Path        string
	HasActivity bool
}
