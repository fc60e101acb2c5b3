// Package receive builds and parses payment targets: validated addresses,
// payment URIs and QR payloads, and fresh receive addresses derived from a
// key source.
package receive

import (
	"context"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/keys"
	"github.com/mrz1836/coinvault/internal/money"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// AddressValidator validates an address for a currency.
type AddressValidator interface {
	ValidateAddress(cur chain.Currency, address string) error
}

// AddressFormatter renders a valid address in the form it is shared in,
// e.g. CashAddr for Bitcoin Cash. Validators may implement it.
type AddressFormatter interface {
	DisplayAddress(address string) (string, error)
}

// KeySource derives receive addresses. Satisfied by *keys.Source.
type KeySource interface {
	Address(cur chain.Currency, index uint32) (string, error)
}

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds the dependencies of the receive service.
type Config struct {
	Registry *chain.Registry
	Keys     KeySource        // optional, required by Derive and FindUnused
	Activity ActivityProvider // optional, every address counts as unused when nil
	Logger   LogWriter
}

// Compile-time interface checks
var (
	_ AddressValidator = (*Service)(nil)
	_ KeySource        = (*keys.Source)(nil)
)

// Service validates addresses and produces receive targets.
type Service struct {
	registry *chain.Registry
	keys     KeySource
	activity ActivityProvider
	logger   LogWriter
}

// NewService creates a receive service.
func NewService(cfg *Config) *Service {
	return &Service{
		registry: cfg.Registry,
		keys:     cfg.Keys,
		activity: cfg.Activity,
		logger:   cfg.Logger,
	}
}

// ValidateAddress dispatches to the validator registered for the currency,
// or for its hosting chain when the currency is a token.
func (s *Service) ValidateAddress(cur chain.Currency, address string) error {
	v, err := s.validator(cur)
	if err != nil {
		return err
	}
	return v.ValidateAddress(address)
}

func (s *Service) validator(cur chain.Currency) (chain.AddressValidator, error) {
	v, err := s.registry.Addresses(cur)
	if err != nil && cur.IsToken() {
		v, err = s.registry.Addresses(cur.Chain())
	}
	return v, err
}

// Target builds a validated receive target. The address is rewritten into
// its shareable form when the chain has one.
func (s *Service) Target(cur chain.Currency, address string, amount *money.Value, memo string) (Target, error) {
	t := Target{Currency: cur, Address: address, Amount: amount, Memo: memo}
	if amount != nil && !amount.IsPositive() {
		return Target{}, vaulterr.WithDetails(vaulterr.ErrInvalidAmount, map[string]string{
			"amount": amount.String(),
			"reason": "amount must be positive",
		})
	}
	if err := t.Validate(s); err != nil {
		return Target{}, err
	}
	if v, err := s.validator(cur); err == nil {
		if f, ok := v.(AddressFormatter); ok {
			display, err := f.DisplayAddress(address)
			if err != nil {
				return Target{}, err
			}
			t.Address = display
		}
	}
	return t, nil
}

// ParseURI parses a payment URI and validates its address.
func (s *Service) ParseURI(raw string) (Target, error) {
	return ParseURI(raw, s)
}

// Derive returns the receive address at index.
func (s *Service) Derive(cur chain.Currency, index uint32) (AddressInfo, error) {
	if s.keys == nil {
		return AddressInfo{}, ErrKeySourceRequired
	}
	addr, err := s.keys.Address(cur, index)
	if err != nil {
		return AddressInfo{}, err
	}
	path, err := keys.Path(cur.Chain(), index)
	if err != nil {
		return AddressInfo{}, err
	}
	return AddressInfo{Currency: cur, Address: addr, Index: index, Path: path}, nil
}

// FindUnused returns the first of the first limit receive addresses without
// recorded activity. When every address was used the last one is returned
// with HasActivity set.
func (s *Service) FindUnused(ctx context.Context, cur chain.Currency, limit uint32) (AddressInfo, error) {
	if limit == 0 {
		limit = keys.DefaultScanLimit
	}

	var info AddressInfo
	for index := range limit {
		var err error
		if info, err = s.Derive(cur, index); err != nil {
			return AddressInfo{}, err
		}
		if s.activity == nil {
			return info, nil
		}
		used, err := s.activity.HasActivity(ctx, cur, info.Address)
		if err != nil {
			s.logError("checking activity of %s %s: %v", cur, info.Address, err)
			return info, nil
		}
		if !used {
			return info, nil
		}
		info.HasActivity = true
	}
	return info, nil
}

func (s *Service) logError(format string, args ...any) {
	if s.logger != nil {
		s.logger.Error(format, args...)
	}
}
