package receive

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/money"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// URI query parameters.
const (
	paramAmount = "amount"
	paramMemo   = "memo"
	paramToken  = "token"
)

// Target is where and how much a payer should send.
type Target struct {
	Currency chain.Currency
	Address  string
	Amount   *money.Value // optional requested amount
	Memo     string       // optional; carried on-chain by XLM and ALGO
}

// URI renders scheme:address[?amount=...][&memo=...]. Token targets add the
// contract as a token parameter so the currency survives a round trip. An
// address that already carries the scheme as its prefix, as a CashAddr
// does, is written once.
func (t Target) URI() string {
	scheme := t.Currency.Scheme()
	var b strings.Builder
	if prefix, _, ok := strings.Cut(t.Address, ":"); !ok || !strings.EqualFold(prefix, scheme) {
		b.WriteString(scheme)
		b.WriteByte(':')
	}
	b.WriteString(t.Address)

	params := make([]string, 0, 3)
	if t.Amount != nil {
		params = append(params, paramAmount+"="+t.Amount.String())
	}
	if t.Memo != "" {
		params = append(params, paramMemo+"="+url.QueryEscape(t.Memo))
	}
	if t.Currency.IsToken() {
		params = append(params, paramToken+"="+t.Currency.Contract)
	}
	if len(params) > 0 {
		b.WriteByte('?')
		b.WriteString(strings.Join(params, "&"))
	}
	return b.String()
}

// QRPayload returns the text to encode in a QR code.
func (t Target) QRPayload() string {
	return t.URI()
}

// String implements fmt.Stringer.
func (t Target) String() string {
	return t.URI()
}

// ParseURI parses a payment URI and validates its address with v.
// Unknown parameters are ignored except BIP21 "req-" parameters, which a
// payer must understand and so are rejected.
func ParseURI(raw string, v AddressValidator) (Target, error) {
	raw = strings.TrimSpace(raw)
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok || scheme == "" || rest == "" {
		return Target{}, invalidURI(raw, "missing scheme or address")
	}

	cur, ok := chain.CurrencyForScheme(scheme)
	if !ok {
		return Target{}, invalidURI(raw, "unknown scheme "+strconv.Quote(scheme))
	}

	address, query, _ := strings.Cut(rest, "?")
	address = strings.TrimPrefix(address, "//")
	if cur == chain.ETH {
		// EIP-681 pay- prefix and @chainId suffix
		address = strings.TrimPrefix(address, "pay-")
		address, _, _ = strings.Cut(address, "@")
	}
	if address == "" {
		return Target{}, invalidURI(raw, "missing address")
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return Target{}, invalidURI(raw, "malformed query")
	}
	for key := range values {
		if strings.HasPrefix(key, "req-") {
			return Target{}, invalidURI(raw, "unsupported required parameter "+strconv.Quote(key))
		}
	}

	if contract := values.Get(paramToken); contract != "" {
		token, ok := tokenFor(cur, contract)
		if !ok {
			return Target{}, invalidURI(raw, "unknown token "+contract)
		}
		cur = token
	}

	t := Target{Currency: cur, Address: address, Memo: values.Get(paramMemo)}
	if text := values.Get(paramAmount); text != "" {
		amount, err := money.Parse(cur, text)
		if err != nil {
			return Target{}, err
		}
		if !amount.IsPositive() {
			return Target{}, vaulterr.WithDetails(vaulterr.ErrInvalidAmount, map[string]string{
				"amount": text,
				"reason": "amount must be positive",
			})
		}
		t.Amount = &amount
	}

	if err := t.Validate(v); err != nil {
		return Target{}, err
	}
	return t, nil
}

// Validate checks the address with v and the memo against the chain limit.
func (t Target) Validate(v AddressValidator) error {
	if limit := t.Currency.MemoLimit(); limit > 0 && len(t.Memo) > limit {
		return vaulterr.WithDetails(vaulterr.ErrMemoTooLong, map[string]string{
			"currency": t.Currency.Code,
			"limit":    strconv.Itoa(limit),
			"length":   strconv.Itoa(len(t.Memo)),
		})
	}
	if t.Amount != nil && t.Amount.Currency != t.Currency {
		return vaulterr.WithDetails(vaulterr.ErrCurrencyMismatch, map[string]string{
			"left":  t.Currency.Code,
			"right": t.Amount.Currency.Code,
		})
	}
	if v == nil {
		return nil
	}
	return v.ValidateAddress(t.Currency, t.Address)
}

func tokenFor(native chain.Currency, contract string) (chain.Currency, bool) {
	contract = strings.ToLower(contract)
	for _, tok := range chain.KnownTokens() {
		if tok.Native == native.Code && tok.Contract == contract {
			return tok, true
		}
	}
	return chain.Currency{}, false
}

func invalidURI(raw, reason string) error {
	return vaulterr.WithDetails(vaulterr.ErrInvalidURI, map[string]string{
		"uri":    raw,
		"reason": reason,
	})
}
