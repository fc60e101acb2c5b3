package account

import (
	"context"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/money"
	"github.com/mrz1836/coinvault/internal/service/receive"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// Holding is what a counterparty reports for one currency.
type Holding struct {
	Available      money.Value
	Pending        money.Value
	DepositAddress string // empty when the counterparty accepts no deposits
	DepositMemo    string
}

// CounterpartyBalances is the client of a custodian, exchange or bank.
type CounterpartyBalances interface {
	Holding(ctx context.Context, custody Custody, cur chain.Currency) (Holding, error)
}

// counterpartyAccount is the shared implementation of accounts whose funds
// a third party holds.
type counterpartyAccount struct {
	currency chain.Currency
	custody  Custody
	label    string
	source   CounterpartyBalances
}

// ID implements Account.
func (a *counterpartyAccount) ID() string {
	return string(a.custody) + ":" + a.currency.Key()
}

// Currency implements Account.
func (a *counterpartyAccount) Currency() chain.Currency { return a.currency }

// Custody implements Account.
func (a *counterpartyAccount) Custody() Custody { return a.custody }

// Label implements Account.
func (a *counterpartyAccount) Label() string { return a.label }

// Balance implements Account.
func (a *counterpartyAccount) Balance(ctx context.Context) (money.Value, error) {
	h, err := a.holding(ctx)
	if err != nil {
		return money.Value{}, err
	}
	return h.Available, nil
}

// PendingBalance implements Account.
func (a *counterpartyAccount) PendingBalance(ctx context.Context) (money.Value, error) {
	h, err := a.holding(ctx)
	if err != nil {
		return money.Value{}, err
	}
	return h.Pending, nil
}

// ReceiveTarget implements Account. It returns the counterparty deposit address.
func (a *counterpartyAccount) ReceiveTarget(ctx context.Context) (receive.Target, error) {
	h, err := a.holding(ctx)
	if err != nil {
		return receive.Target{}, err
	}
	if h.DepositAddress == "" {
		return receive.Target{}, vaulterr.WithDetails(vaulterr.ErrUnsupportedAsset, map[string]string{
			"currency":  a.currency.Code,
			"custody":   string(a.custody),
			"operation": "receive",
		})
	}
	return receive.Target{Currency: a.currency, Address: h.DepositAddress, Memo: h.DepositMemo}, nil
}

// holding reads the counterparty and normalises missing amounts to zero.
func (a *counterpartyAccount) holding(ctx context.Context) (Holding, error) {
	h, err := a.source.Holding(ctx, a.custody, a.currency)
	if err != nil {
		return Holding{}, err
	}
	if h.Available.Currency.IsZero() {
		h.Available = money.Zero(a.currency)
	}
	if h.Pending.Currency.IsZero() {
		h.Pending = money.Zero(a.currency)
	}
	for _, v := range []money.Value{h.Available, h.Pending} {
		if v.Currency != a.currency {
			return Holding{}, vaulterr.WithDetails(vaulterr.ErrCurrencyMismatch, map[string]string{
				"left":  a.currency.Code,
				"right": v.Currency.Code,
			})
		}
	}
	return h, nil
}

func newCounterparty(cur chain.Currency, custody Custody, label string, src CounterpartyBalances) counterpartyAccount {
	return counterpartyAccount{currency: cur, custody: custody, label: label, source: src}
}

// CustodialAccount is a trading balance held by the wallet provider.
type CustodialAccount struct{ counterpartyAccount }

// NewCustodialAccount creates a custodial trading account.
func NewCustodialAccount(cur chain.Currency, label string, src CounterpartyBalances) *CustodialAccount {
	return &CustodialAccount{newCounterparty(cur, Custodial, label, src)}
}

// Actions implements Account.
func (*CustodialAccount) Actions() []Action {
	return []Action{ActionSend, ActionReceive, ActionTransfer, ActionActivity}
}

// InterestAccount is a savings balance earning interest.
type InterestAccount struct{ counterpartyAccount }

// NewInterestAccount creates an interest account.
func NewInterestAccount(cur chain.Currency, label string, src CounterpartyBalances) *InterestAccount {
	return &InterestAccount{newCounterparty(cur, Interest, label, src)}
}

// Actions implements Account.
func (*InterestAccount) Actions() []Action {
	return []Action{ActionDeposit, ActionWithdraw, ActionActivity}
}

// ExchangeAccount is a balance on a linked exchange.
type ExchangeAccount struct{ counterpartyAccount }

// NewExchangeAccount creates a linked exchange account.
func NewExchangeAccount(cur chain.Currency, label string, src CounterpartyBalances) *ExchangeAccount {
	return &ExchangeAccount{newCounterparty(cur, Exchange, label, src)}
}

// Actions implements Account.
func (*ExchangeAccount) Actions() []Action {
	return []Action{ActionDeposit, ActionWithdraw}
}

// FiatAccount is a fiat balance held by the wallet provider.
type FiatAccount struct{ counterpartyAccount }

// NewFiatAccount creates a fiat account.
func NewFiatAccount(cur chain.Currency, label string, src CounterpartyBalances) *FiatAccount {
	return &FiatAccount{newCounterparty(cur, FiatCustody, label, src)}
}

// Actions implements Account.
func (*FiatAccount) Actions() []Action {
	return []Action{ActionDeposit, ActionWithdraw, ActionActivity}
}

// BankAccount is a linked bank account used to move fiat in and out.
type BankAccount struct{ counterpartyAccount }

// NewBankAccount creates a linked bank account.
func NewBankAccount(cur chain.Currency, label string, src CounterpartyBalances) *BankAccount {
	return &BankAccount{newCounterparty(cur, BankCustody, label, src)}
}

// Actions implements Account.
func (*BankAccount) Actions() []Action {
	return []Action{ActionTransfer}
}

// Compile-time interface checks
var (
	_ Account = (*NonCustodialAccount)(nil)
	_ Account = (*CustodialAccount)(nil)
	_ Account = (*InterestAccount)(nil)
	_ Account = (*ExchangeAccount)(nil)
	_ Account = (*FiatAccount)(nil)
	_ Account = (*BankAccount)(nil)
)
