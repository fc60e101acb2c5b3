// Package money pairs amounts with currencies. Amounts are kept in the
// currency's smallest unit; decimal text is only produced or parsed at the edges.
package money

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mrz1836/coinvault/internal/chain"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// Value is an amount of one currency in minor units (satoshi, wei, stroop).
type Value struct {
	Currency chain.Currency
	minor    *big.Int
}

// New creates a value from minor units. A nil amount is treated as zero.
func New(c chain.Currency, minor *big.Int) Value {
	v := Value{Currency: c, minor: new(big.Int)}
	if minor != nil {
		v.minor.Set(minor)
	}
	return v
}

// FromUint64 creates a value from an integer amount of minor units.
func FromUint64(c chain.Currency, minor uint64) Value {
	return Value{Currency: c, minor: new(big.Int).SetUint64(minor)}
}

// Zero returns the zero value of a currency.
func Zero(c chain.Currency) Value {
	return Value{Currency: c, minor: new(big.Int)}
}

// Parse converts decimal text ("1.25") to a value. More fractional digits
// than the currency carries, negative amounts and exponents are rejected.
func Parse(c chain.Currency, text string) (Value, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Value{}, vaulterr.ErrAmountRequired
	}
	if strings.ContainsAny(text, "eE+") {
		return Value{}, invalidAmount(text, c)
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return Value{}, invalidAmount(text, c)
	}
	if d.IsNegative() {
		return Value{}, invalidAmount(text, c)
	}

	scaled := d.Shift(int32(c.Decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return Value{}, vaulterr.WithDetails(vaulterr.ErrInvalidAmount, map[string]string{
			"amount":   text,
			"currency": c.Code,
			"reason":   "too many decimal places",
		})
	}
	return Value{Currency: c, minor: scaled.BigInt()}, nil
}

// MustParse is Parse for constants in tests and defaults. It panics on error.
func MustParse(c chain.Currency, text string) Value {
	v, err := Parse(c, text)
	if err != nil {
		panic(err)
	}
	return v
}

// Minor returns a copy of the amount in minor units.
func (v Value) Minor() *big.Int {
	if v.minor == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v.minor)
}

// Decimal returns the amount in major units.
func (v Value) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(v.Minor(), -int32(v.Currency.Decimals))
}

// String formats the amount in major units without trailing zeros.
func (v Value) String() string {
	return v.Decimal().String()
}

// Display formats the amount followed by the ticker, e.g. "0.5 BTC".
func (v Value) Display() string {
	return v.String() + " " + v.Currency.Code
}

// Sign returns -1, 0 or +1.
func (v Value) Sign() int {
	return v.Minor().Sign()
}

// IsZero reports whether the amount is zero.
func (v Value) IsZero() bool {
	return v.Sign() == 0
}

// IsPositive reports whether the amount is greater than zero.
func (v Value) IsPositive() bool {
	return v.Sign() > 0
}

// Add returns v + o. Both values must share a currency.
func (v Value) Add(o Value) (Value, error) {
	if err := sameCurrency(v, o); err != nil {
		return Value{}, err
	}
	return Value{Currency: v.Currency, minor: new(big.Int).Add(v.Minor(), o.Minor())}, nil
}

// Sub returns v - o. Both values must share a currency. The result may be negative.
func (v Value) Sub(o Value) (Value, error) {
	if err := sameCurrency(v, o); err != nil {
		return Value{}, err
	}
	return Value{Currency: v.Currency, minor: new(big.Int).Sub(v.Minor(), o.Minor())}, nil
}

// Cmp compares v and o. Both values must share a currency.
func (v Value) Cmp(o Value) (int, error) {
	if err := sameCurrency(v, o); err != nil {
		return 0, err
	}
	return v.Minor().Cmp(o.Minor()), nil
}

// Equal reports whether v and o have the same currency and amount.
func (v Value) Equal(o Value) bool {
	return v.Currency == o.Currency && v.Minor().Cmp(o.Minor()) == 0
}

// Sum adds values of one currency. An empty list sums to zero of c.
func Sum(c chain.Currency, values ...Value) (Value, error) {
	total := Zero(c)
	for _, v := range values {
		var err error
		if total, err = total.Add(v); err != nil {
			return Value{}, err
		}
	}
	return total, nil
}

type jsonValue struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
	Minor    string `json:"minor"`
}

// MarshalJSON renders the value with both decimal and minor-unit amounts.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonValue{
		Currency: v.Currency.Code,
		Amount:   v.String(),
		Minor:    v.Minor().String(),
	})
}

func sameCurrency(a, b Value) error {
	if a.Currency != b.Currency {
		return vaulterr.WithDetails(vaulterr.ErrCurrencyMismatch, map[string]string{
			"left":  a.Currency.Code,
			"right": b.Currency.Code,
		})
	}
	return nil
}

func invalidAmount(text string, c chain.Currency) error {
	return vaulterr.WithDetails(vaulterr.ErrInvalidAmount, map[string]string{
		"amount":   text,
		"currency": c.Code,
	})
}
