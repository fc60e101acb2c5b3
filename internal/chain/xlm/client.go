// Package xlm implements the sequence-number family: native Stellar lumens
// submitted through Horizon.
package xlm

import (
	"sync"
	"time"

	"github.com/stellar/go/network"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/chain/httpapi"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// Network passphrases.
const (
	PublicPassphrase  = network.PublicNetworkPassphrase
	TestnetPassphrase = network.TestNetworkPassphrase
)

const (
	// BaseReserve is the per-entry minimum balance in stroops.
	BaseReserve = 5_000_000

	// DefaultBaseFee is the protocol minimum fee per operation in stroops.
	DefaultBaseFee = 100

	// FeeUnit labels Stellar fee rates.
	FeeUnit = "stroops/op"

	// DefaultTxTimeout bounds how long after building a transaction stays valid.
	DefaultTxTimeout = 5 * time.Minute
)

var (
	// ErrHorizonRequired indicates the client was built without a Horizon connection.
	ErrHorizonRequired = &vaulterr.WalletError{
		Code:     "XLM_HORIZON_REQUIRED",
		Message:  "a Horizon client is required",
		Class:    vaulterr.ClassProgramming,
		ExitCode: vaulterr.ExitProgramming,
	}
)

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds dependencies for the Stellar client.
type Config struct {
	API        *httpapi.Client
	Passphrase string        // defaults to the public network
	TxTimeout  time.Duration // defaults to DefaultTxTimeout
	Logger     LogWriter
}

// Compile-time interface checks
var (
	_ chain.AddressValidator   = (*Client)(nil)
	_ chain.BalanceFetcher     = (*Client)(nil)
	_ chain.FeeEstimator       = (*Client)(nil)
	_ chain.Builder            = (*Client)(nil)
	_ chain.Signer             = (*Client)(nil)
	_ chain.Encoder            = (*Client)(nil)
	_ chain.Broadcaster        = (*Client)(nil)
	_ chain.Reservations       = (*Client)(nil)
	_ chain.DestinationChecker = (*Client)(nil)
)

// Client provides Stellar operations.
type Client struct {
	api        *httpapi.Client
	passphrase string
	timeout    time.Duration
	logger     LogWriter

	mu   sync.Mutex
	seqs map[string]int64 // account -> highest sequence number assigned locally
}

// NewClient creates a Stellar client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.API == nil {
		return nil, ErrHorizonRequired
	}
	c := &Client{
		api:        cfg.API,
		passphrase: cfg.Passphrase,
		timeout:    cfg.TxTimeout,
		logger:     cfg.Logger,
		seqs:       make(map[string]int64),
	}
	if c.passphrase == "" {
		c.passphrase = PublicPassphrase
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTxTimeout
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
		Destinations: c,
	}
}

// Passphrase returns the network passphrase signatures commit to.
func (c *Client) Passphrase() string {
	return c.passphrase
}

// ValidateAddress implements chain.AddressValidator.
func (c *Client) ValidateAddress(address string) error {
	_, err := DecodeAccountID(address)
	return err
}

func (c *Client) supports(cur chain.Currency) error {
	if cur == chain.XLM {
		return nil
	}
	return vaulterr.WithDetails(vaulterr.ErrUnsupportedAsset, map[string]string{
		"currency": cur.Code,
		"chain":    chain.XLM.Code,
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
