// Package account models the accounts a user holds in one currency across
// custody types, and composes them into groups and portfolio views.
package account

import (
	"context"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/money"
	"github.com/mrz1836/coinvault/internal/service/receive"
)

// Custody is the bucket that holds an account's funds.
type Custody string

// Custody buckets.
const (
	NonCustodial Custody = "nonCustodial"
	Custodial    Custody = "custodial"
	Interest     Custody = "interest"
	Exchange     Custody = "exchange"
	FiatCustody  Custody = "fiat"
	BankCustody  Custody = "bank"
)

// Action is something a user can do with an account.
type Action string

// Account actions.
const (
	ActionSend     Action = "send"
	ActionReceive  Action = "receive"
	ActionDeposit  Action = "deposit"
	ActionWithdraw Action = "withdraw"
	ActionTransfer Action = "transfer"
	ActionActivity Action = "activity"
)

// Account is one holding of one currency in one custody bucket.
type Account interface {
	// ID is unique across every account of every currency.
	ID() string
	Currency() chain.Currency
	Custody() Custody
	Label() string
	Balance(ctx context.Context) (money.Value, error)
	PendingBalance(ctx context.Context) (money.Value, error)
	ReceiveTarget(ctx context.Context) (receive.Target, error)
	Actions() []Action
}
