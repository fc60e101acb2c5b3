// Package chain provides the currency model, the per-chain capability
// interfaces and the transaction stage types shared by every chain family.
package chain

import (
	"fmt"
	"strings"

	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// Kind distinguishes native coins, tokens and fiat currencies.
type Kind string

// Currency kinds.
const (
	KindNative Kind = "native"
	KindToken  Kind = "token"
	KindFiat   Kind = "fiat"
)

// Family is the transaction model a chain uses.
type Family string

// Chain families.
const (
	FamilyUTXO     Family = "utxo"     // bitcoin, bitcoin-cash
	FamilyNonce    Family = "nonce"    // ethereum and ERC-20 tokens
	FamilySequence Family = "sequence" // stellar
	FamilyAccount  Family = "account"  // algorand, polkadot
	FamilyFiat     Family = "fiat"
)

// Currency identifies a native coin, a token on a native chain or a fiat currency.
// It is a value type and is compared with ==.
type Currency struct {
	Kind     Kind
	Code     string // upper-case ticker
	Native   string // code of the hosting chain, tokens only
	Contract string // lower-case contract address, tokens only
	Decimals uint8
}

// Native currencies.
var (
	BTC  = Currency{Kind: KindNative, Code: "BTC", Decimals: 8}
	BCH  = Currency{Kind: KindNative, Code: "BCH", Decimals: 8}
	ETH  = Currency{Kind: KindNative, Code: "ETH", Decimals: 18}
	XLM  = Currency{Kind: KindNative, Code: "XLM", Decimals: 7}
	ALGO = Currency{Kind: KindNative, Code: "ALGO", Decimals: 6}
	DOT  = Currency{Kind: KindNative, Code: "DOT", Decimals: 10}
)

// Well-known ERC-20 tokens.
var (
	USDC = NewToken(ETH, "USDC", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", 6)
	USDT = NewToken(ETH, "USDT", "0xdAC17F958D2ee523a2206206994597C13D831ec7", 6)
)

// NativeCurrencies returns every native coin in display order.
func NativeCurrencies() []Currency {
	return []Currency{BTC, BCH, ETH, XLM, ALGO, DOT}
}

// KnownTokens returns the built-in token list.
func KnownTokens() []Currency {
	return []Currency{USDC, USDT}
}

// NewToken creates a token currency hosted on a native chain.
func NewToken(native Currency, code, contract string, decimals uint8) Currency {
	return Currency{
		Kind:     KindToken,
		Code:     strings.ToUpper(code),
		Native:   native.Code,
		Contract: strings.ToLower(contract),
		Decimals: decimals,
	}
}

// Fiat creates a fiat currency with two decimals.
func Fiat(code string) Currency {
	return Currency{Kind: KindFiat, Code: strings.ToUpper(code), Decimals: 2}
}

// ParseCurrency resolves a ticker to a native coin or a known token.
func ParseCurrency(code string) (Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range NativeCurrencies() {
		if c.Code == code {
			return c, nil
		}
	}
	for _, c := range KnownTokens() {
		if c.Code == code {
			return c, nil
		}
	}
	return Currency{}, vaulterr.WithDetails(vaulterr.ErrUnknownCurrency, map[string]string{"code": code})
}

// String returns the ticker.
func (c Currency) String() string {
	return c.Code
}

// Key returns a string unique across currencies, suitable for cache keys.
func (c Currency) Key() string {
	if c.Kind == KindToken {
		return fmt.Sprintf("%s:%s", strings.ToLower(c.Native), c.Contract)
	}
	return strings.ToLower(c.Code)
}

// IsZero reports whether c is the zero value.
func (c Currency) IsZero() bool {
	return c == Currency{}
}

// IsToken reports whether c is a token on another chain.
func (c Currency) IsToken() bool {
	return c.Kind == KindToken
}

// Chain returns the native currency that pays fees for c.
// Fiat currencies return themselves.
func (c Currency) Chain() Currency {
	if c.Kind != KindToken {
		return c
	}
	for _, n := range NativeCurrencies() {
		if n.Code == c.Native {
			return n
		}
	}
	return Currency{}
}

// Family returns the transaction model of the hosting chain.
func (c Currency) Family() Family {
	switch c.Chain() {
	case BTC, BCH:
		return FamilyUTXO
	case ETH:
		return FamilyNonce
	case XLM:
		return FamilySequence
	case ALGO, DOT:
		return FamilyAccount
	default:
		return FamilyFiat
	}
}

// Scheme returns the payment URI scheme.
func (c Currency) Scheme() string {
	switch c.Chain() {
	case BTC:
		return "bitcoin"
	case BCH:
		return "bitcoincash"
	case ETH:
		return "ethereum"
	case XLM:
		return "stellar"
	case ALGO:
		return "algorand"
	case DOT:
		return "polkadot"
	default:
		return ""
	}
}

// CurrencyForScheme returns the native currency using a URI scheme.
func CurrencyForScheme(scheme string) (Currency, bool) {
	scheme = strings.ToLower(scheme)
	for _, c := range NativeCurrencies() {
		if c.Scheme() == scheme {
			return c, true
		}
	}
	return Currency{}, false
}

// CoinType returns the BIP44 coin type of the hosting chain.
func (c Currency) CoinType() uint32 {
	switch c.Chain() {
	case BTC:
		return 0
	case BCH:
		return 145
	case ETH:
		return 60
	case XLM:
		return 148
	case ALGO:
		return 283
	case DOT:
		return 354
	default:
		return 0
	}
}

// DerivationPath returns the BIP44 account path prefix.
func (c Currency) DerivationPath() string {
	if c.Family() == FamilyFiat {
		return ""
	}
	return fmt.Sprintf("m/44'/%d'/0'", c.CoinType())
}

// DustLimit returns the minimum output value in base units for UTXO chains.
func (c Currency) DustLimit() uint64 {
	if c.Family() == FamilyUTXO {
		return 546
	}
	return 0
}

// MemoLimit returns the maximum memo length in bytes, zero when memos are not carried on-chain.
func (c Currency) MemoLimit() int {
	switch c.Chain() {
	case XLM:
		return 28
	case ALGO:
		return 1024
	default:
		return 0
	}
}
