// Package eth implements the nonce-based Ethereum family: native ETH and
// ERC-20 tokens. One Client provides every pipeline capability for the chain.
package eth

import (
	"math/big"
	"strings"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/chain/eth/rpc"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

var (
	// ErrRPCRequired indicates the client was built without a node connection.
	ErrRPCRequired = &vaulterr.WalletError{
		Code:     "ETH_RPC_REQUIRED",
		Message:  "an Ethereum RPC client is required",
		Class:    vaulterr.ClassProgramming,
		ExitCode: vaulterr.ExitProgramming,
	}

	// ErrChainIDRequired indicates the client was built without an EIP-155 chain ID.
	ErrChainIDRequired = &vaulterr.WalletError{
		Code:     "ETH_CHAIN_ID_REQUIRED",
		Message:  "a positive chain ID is required",
		Class:    vaulterr.ClassProgramming,
		ExitCode: vaulterr.ExitProgramming,
	}
)

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds dependencies for the ETH client.
type Config struct {
	RPC     *rpc.Client
	ChainID *big.Int
	Tokens  []chain.Currency // ERC-20 tokens this client recognises
	Nonces  *NonceManager    // shared across clients of the same chain; created when nil
	Logger  LogWriter
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

// Client provides Ethereum operations.
type Client struct {
	rpc     *rpc.Client
	chainID *big.Int
	tokens  map[string]chain.Currency // lower-case contract -> token
	nonces  *NonceManager
	logger  LogWriter
}

// NewClient creates a new ETH client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPC == nil {
		return nil, ErrRPCRequired
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, ErrChainIDRequired
	}

	c := &Client{
		rpc:     cfg.RPC,
		chainID: new(big.Int).Set(cfg.ChainID),
		tokens:  make(map[string]chain.Currency, len(cfg.Tokens)),
		nonces:  cfg.Nonces,
		logger:  cfg.Logger,
	}
	if c.nonces == nil {
		c.nonces = NewNonceManager()
	}
	for _, tok := range cfg.Tokens {
		if tok.IsToken() && tok.Native == chain.ETH.Code {
			c.tokens[strings.ToLower(tok.Contract)] = tok
		}
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

// ChainID returns the EIP-155 chain ID.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Tokens returns the recognised ERC-20 tokens.
func (c *Client) Tokens() []chain.Currency {
	out := make([]chain.Currency, 0, len(c.tokens))
	for _, tok := range c.tokens {
		out = append(out, tok)
	}
	return out
}

// Nonces returns the nonce manager.
func (c *Client) Nonces() *NonceManager {
	return c.nonces
}

func (c *Client) supports(cur chain.Currency) error {
	if cur == chain.ETH {
		return nil
	}
	if tok, ok := c.tokens[strings.ToLower(cur.Contract)]; ok && tok == cur {
		return nil
	}
	return vaulterr.WithDetails(vaulterr.ErrUnsupportedAsset, map[string]string{
		"currency": cur.Code,
		"chain":    chain.ETH.Code,
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
