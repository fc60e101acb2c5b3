// Package btc implements the UTXO family: Bitcoin and Bitcoin Cash. One
// Client serves one currency and provides every pipeline capability for it.
package btc

import (
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/chain/httpapi"
	"github.com/mrz1836/coinvault/internal/utxostore"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

var (
	// ErrAPIRequired indicates the client was built without an indexer connection.
	ErrAPIRequired = &vaulterr.WalletError{
		Code:     "UTXO_API_REQUIRED",
		Message:  "a UTXO indexer client is required",
		Class:    vaulterr.ClassProgramming,
		ExitCode: vaulterr.ExitProgramming,
	}

	// ErrNotUTXOCurrency indicates the client was configured for a non-UTXO currency.
	ErrNotUTXOCurrency = &vaulterr.WalletError{
		Code:     "NOT_UTXO_CURRENCY",
		Message:  "currency is not a UTXO chain",
		Class:    vaulterr.ClassProgramming,
		ExitCode: vaulterr.ExitProgramming,
	}
)

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds dependencies for a UTXO chain client.
type Config struct {
	// Currency is chain.BTC or chain.BCH.
	Currency chain.Currency

	// API is the Esplora-compatible indexer.
	API *httpapi.Client

	// Testnet selects testnet address encoding.
	Testnet bool

	// Store tracks reserved and spent outputs. An in-memory store is used when nil.
	Store *utxostore.Store

	// MinFeeRate and MaxFeeRate clamp indexer estimates, in sat/vB.
	MinFeeRate uint64
	MaxFeeRate uint64

	// FallbackFeeRate is used when the indexer has no estimate, in sat/vB.
	FallbackFeeRate uint64

	Logger LogWriter
}

// Compile-time interface checks
var (
	_ chain.AddressValidator = (*Client)(nil)
	_ chain.BalanceFetcher   = (*Client)(nil)
	_ chain.FeeEstimator     = (*Client)(nil)
	_ chain.Builder          = (*Client)(nil)
	_ chain.Signer           = (*Client)(nil)
	_ chain.Encoder          = (*Client)(nil)
	_ chain.Broadcaster      = (*Client)(nil)
	_ chain.Reservations     = (*Client)(nil)
)

// Client provides operations for one UTXO currency.
type Client struct {
	currency chain.Currency
	api      *httpapi.Client
	params   *chaincfg.Params
	store    *utxostore.Store
	minRate  uint64
	maxRate  uint64
	fallback uint64
	logger   LogWriter
}

// NewClient creates a UTXO chain client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Currency != chain.BTC && cfg.Currency != chain.BCH {
		return nil, vaulterr.WithDetails(ErrNotUTXOCurrency, map[string]string{"currency": cfg.Currency.Code})
	}
	if cfg.API == nil {
		return nil, ErrAPIRequired
	}

	c := &Client{
		currency: cfg.Currency,
		api:      cfg.API,
		params:   &chaincfg.MainNetParams,
		store:    cfg.Store,
		minRate:  cfg.MinFeeRate,
		maxRate:  cfg.MaxFeeRate,
		fallback: cfg.FallbackFeeRate,
		logger:   cfg.Logger,
	}
	if cfg.Testnet {
		c.params = &chaincfg.TestNet3Params
	}
	if c.store == nil {
		c.store = utxostore.NewMemory()
	}
	if c.minRate == 0 {
		c.minRate = MinFeeRate
	}
	if c.maxRate == 0 || c.maxRate < c.minRate {
		c.maxRate = MaxFeeRate
	}
	if c.fallback == 0 {
		c.fallback = DefaultFeeRate
	}
	return c, nil
}

// Capabilities returns the client registered for every capability.
func (c *Client) Capabilities() chain.Capabilities {
	return chain.Capabilities{
		Addresses:    c,
		Balances:     c,
		Fees:         c,
		Builder:      c,
		Signer:       c,
		Encoder:      c,
		Broadcaster:  c,
		Reservations: c,
	}
}

// Currency returns the currency served by the client.
func (c *Client) Currency() chain.Currency {
	return c.currency
}

// Params returns the address network parameters.
func (c *Client) Params() *chaincfg.Params {
	return c.params
}

// Store returns the output reservation store.
func (c *Client) Store() *utxostore.Store {
	return c.store
}

// forkID reports whether signatures commit to the BCH replay-protection flag.
func (c *Client) forkID() bool {
	return c.currency == chain.BCH
}

func (c *Client) supports(cur chain.Currency) error {
	if cur == c.currency {
		return nil
	}
	return vaulterr.WithDetails(vaulterr.ErrUnsupportedAsset, map[string]string{
		"currency": cur.Code,
		"chain":    c.currency.Code,
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
