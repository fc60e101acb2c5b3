// Package algo implements read-side Algorand support: address validation,
// balances and suggested fees from an algod node.
package algo

import (
	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/chain/httpapi"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

const (
	// TokenHeader carries the algod API token.
	TokenHeader = "X-Algo-API-Token" // #nosec G101 -- header name, not a credential

	// MinTxnFee is the protocol minimum fee in microalgos.
	MinTxnFee = 1000

	// PaymentTxnSize approximates a signed payment transaction in bytes.
	PaymentTxnSize = 250

	// FeeUnit labels Algorand fee rates.
	FeeUnit = "microalgos/txn"
)

var (
	// ErrAlgodRequired indicates the client was built without an algod connection.
	ErrAlgodRequired = &vaulterr.WalletError{
		Code:     "ALGO_ALGOD_REQUIRED",
		Message:  "an algod client is required",
		Class:    vaulterr.ClassProgramming,
		ExitCode: vaulterr.ExitProgramming,
	}
)

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds dependencies for the Algorand client.
type Config struct {
	API    *httpapi.Client
	Logger LogWriter
}

// Compile-time interface checks
var (
	_ chain.AddressValidator = (*Client)(nil)
	_ chain.BalanceFetcher   = (*Client)(nil)
	_ chain.FeeEstimator     = (*Client)(nil)
)

// Client provides Algorand operations.
type Client struct {
	api    *httpapi.Client
	logger LogWriter
}

// NewClient creates an Algorand client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.API == nil {
		return nil, ErrAlgodRequired
	}
	return &Client{api: cfg.API, logger: cfg.Logger}, nil
}

// Capabilities returns the read-side capabilities. Transfers are not built
// for Algorand, so the pipeline capabilities stay empty.
func (c *Client) Capabilities() chain.Capabilities {
	return chain.Capabilities{
		Addresses: c,
		Balances:  c,
		Fees:      c,
	}
}

// ValidateAddress implements chain.AddressValidator.
func (c *Client) ValidateAddress(address string) error {
	_, err := DecodeAddress(address)
	return err
}

func (c *Client) supports(cur chain.Currency) error {
	if cur == chain.ALGO {
		return nil
	}
	return vaulterr.WithDetails(vaulterr.ErrUnsupportedAsset, map[string]string{
		"currency": cur.Code,
		"chain":    chain.ALGO.Code,
	})
}

func (c *Client) debug(format string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(format, args...)
	}
}

func (c *Client) logError(format string, args ...any) {
	if c.logger != nil {
		c.logger.Error(format, args...)
	}
}
