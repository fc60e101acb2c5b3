// Package dot implements read-side Polkadot support: SS58 address
// validation and balances from a Substrate API sidecar.
package dot

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/chain/httpapi"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// ExistentialDeposit is the balance below which a Polkadot account is reaped, in planck.
var ExistentialDeposit = big.NewInt(10_000_000_000)

var (
	// ErrSidecarRequired indicates the client was built without a sidecar connection.
	ErrSidecarRequired = &vaulterr.WalletError{
		Code:     "DOT_SIDECAR_REQUIRED",
		Message:  "a sidecar client is required",
		Class:    vaulterr.ClassProgramming,
		ExitCode: vaulterr.ExitProgramming,
	}
)

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds dependencies for the Polkadot client.
type Config struct {
	API    *httpapi.Client
	Prefix uint8 // SS58 prefix; zero is Polkadot
	Logger LogWriter
}

// Compile-time interface checks
var (
	_ chain.AddressValidator = (*Client)(nil)
	_ chain.BalanceFetcher   = (*Client)(nil)
)

// Client provides Polkadot operations.
type Client struct {
	api    *httpapi.Client
	prefix uint8
	logger LogWriter
}

// NewClient creates a Polkadot client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.API == nil {
		return nil, ErrSidecarRequired
	}
	return &Client{api: cfg.API, prefix: cfg.Prefix, logger: cfg.Logger}, nil
}

// Capabilities returns the read-side capabilities.
func (c *Client) Capabilities() chain.Capabilities {
	return chain.Capabilities{
		Addresses: c,
		Balances:  c,
	}
}

// ValidateAddress implements chain.AddressValidator.
func (c *Client) ValidateAddress(address string) error {
	_, err := DecodeAddress(c.prefix, address)
	return err
}

// BalanceInfo is the subset of GET /accounts/{address}/balance-info the
// wallet reads. Amounts are decimal strings of planck. Older sidecars report
// miscFrozen and feeFrozen instead of frozen.
type BalanceInfo struct {
	At struct {
		Hash   string `json:"hash"`
		Height string `json:"height"`
	} `json:"at"`
	Nonce       string `json:"nonce"`
	TokenSymbol string `json:"tokenSymbol"`
	Free        string `json:"free"`
	Reserved    string `json:"reserved"`
	Frozen      string `json:"frozen"`
	MiscFrozen  string `json:"miscFrozen"`
	FeeFrozen   string `json:"feeFrozen"`
}

// FetchBalanceInfo retrieves the balance of an account at the chain head.
func (c *Client) FetchBalanceInfo(ctx context.Context, address string) (BalanceInfo, error) {
	var info BalanceInfo
	err := c.api.GetJSON(ctx, "/accounts/"+url.PathEscape(address)+"/balance-info", &info)
	return info, err
}

// FetchState returns the balance of an account. Reserved and frozen funds and
// the existential deposit of a live account count as reserve.
func (c *Client) FetchState(ctx context.Context, cur chain.Currency, address string) (chain.AccountState, error) {
	if cur != chain.DOT {
		return chain.AccountState{}, vaulterr.WithDetails(vaulterr.ErrUnsupportedAsset, map[string]string{
			"currency": cur.Code,
			"chain":    chain.DOT.Code,
		})
	}
	if err := c.ValidateAddress(address); err != nil {
		return chain.AccountState{}, err
	}

	info, err := c.FetchBalanceInfo(ctx, address)
	if err != nil {
		return chain.AccountState{}, fmt.Errorf("fetching balance info: %w", err)
	}

	fields := map[string]string{
		"free":       info.Free,
		"reserved":   info.Reserved,
		"frozen":     info.Frozen,
		"miscFrozen": info.MiscFrozen,
		"feeFrozen":  info.FeeFrozen,
		"nonce":      info.Nonce,
	}
	values := make(map[string]*big.Int, len(fields))
	for name, text := range fields {
		v, err := parsePlanck(text)
		if err != nil {
			return chain.AccountState{}, vaulterr.WithDetails(vaulterr.WithCause(vaulterr.ErrDecoding, err), map[string]string{
				"field": name,
				"value": text,
			})
		}
		values[name] = v
	}

	free, reserved := values["free"], values["reserved"]
	locked := maxInt(values["frozen"], values["miscFrozen"], values["feeFrozen"])
	if free.Sign() > 0 {
		locked = maxInt(locked, ExistentialDeposit)
	}
	// locked funds never exceed what is free
	if locked.Cmp(free) > 0 {
		locked = new(big.Int).Set(free)
	}

	c.logDebug("dot: %s free=%s reserved=%s locked=%s at block %s", address, free, reserved, locked, info.At.Height)

	return chain.AccountState{
		Currency:  chain.DOT,
		Address:   address,
		Confirmed: new(big.Int).Add(free, reserved),
		Pending:   new(big.Int),
		Reserve:   new(big.Int).Add(reserved, locked),
		Nonce:     values["nonce"].Uint64(),
		FetchedAt: time.Now(),
	}, nil
}

// parsePlanck parses a non-negative decimal amount. Empty means zero.
func parsePlanck(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid planck amount %q", s)
	}
	return v, nil
}

func maxInt(first *big.Int, rest ...*big.Int) *big.Int {
	m := first
	for _, v := range rest {
		if v.Cmp(m) > 0 {
			m = v
		}
	}
	return m
}

func (c *Client) logDebug(format string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(format, args...)
	}
}
