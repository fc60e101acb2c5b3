package account

import (
	"context"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/money"
	"github.com/mrz1836/coinvault/internal/service/balance"
	"github.com/mrz1836/coinvault/internal/service/receive"
)

// DetailsSource reads the details of one on-chain account.
// Satisfied by *balance.Repository.
type DetailsSource interface {
	CurrentDetails(ctx context.Context, fromCache bool) (balance.AccountDetails, error)
}

var _ DetailsSource = (*balance.Repository)(nil)

// NonCustodialAccount is an address the user holds the keys for.
type NonCustodialAccount struct {
	currency chain.Currency
	address  string
	path     string
	label    string
	details  DetailsSource
}

// NewNonCustodialAccount creates an account for an address derived at path.
func NewNonCustodialAccount(cur chain.Currency, address, path, label string, details DetailsSource) *NonCustodialAccount {
	return &NonCustodialAccount{
		currency: cur,
		address:  address,
		path:     path,
		label:    label,
		details:  details,
	}
}

// ID implements Account.
func (a *NonCustodialAccount) ID() string {
	return string(NonCustodial) + ":" + a.currency.Key() + ":" + a.address
}

// Currency implements Account.
func (a *NonCustodialAccount) Currency() chain.Currency { return a.currency }

// Custody implements Account.
func (a *NonCustodialAccount) Custody() Custody { return NonCustodial }

// Label implements Account.
func (a *NonCustodialAccount) Label() string { return a.label }

// Address returns the on-chain address.
func (a *NonCustodialAccount) Address() string { return a.address }

// Path returns the derivation path of the account key.
func (a *NonCustodialAccount) Path() string { return a.path }

// Details returns the repository view of the account.
func (a *NonCustodialAccount) Details(ctx context.Context, fromCache bool) (balance.AccountDetails, error) {
	return a.details.CurrentDetails(ctx, fromCache)
}

// Balance implements Account. It returns the confirmed balance.
func (a *NonCustodialAccount) Balance(ctx context.Context) (money.Value, error) {
	d, err := a.details.CurrentDetails(ctx, true)
	if err != nil {
		return money.Value{}, err
	}
	return d.Balance, nil
}

// PendingBalance implements Account.
func (a *NonCustodialAccount) PendingBalance(ctx context.Context) (money.Value, error) {
	d, err := a.details.CurrentDetails(ctx, true)
	if err != nil {
		return money.Value{}, err
	}
	return d.Pending, nil
}

// ReceiveTarget implements Account.
func (a *NonCustodialAccount) ReceiveTarget(context.Context) (receive.Target, error) {
	return receive.Target{Currency: a.currency, Address: a.address}, nil
}

// Actions implements Account.
func (a *NonCustodialAccount) Actions() []Action {
	return []Action{ActionSend, ActionReceive, ActionActivity}
}
