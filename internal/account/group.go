package account

import (
	"context"
	"strings"

	"github.com/samber/lo"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/money"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// Scope selects which custody buckets an account group covers.
type Scope string

// Supported scopes.
const (
	ScopeAll          Scope = "all"
	ScopeCustodial    Scope = "custodial"
	ScopeInterest     Scope = "interest"
	ScopeNonCustodial Scope = "nonCustodial"
)

// Scopes returns every supported scope.
func Scopes() []Scope {
	return []Scope{ScopeAll, ScopeNonCustodial, ScopeCustodial, ScopeInterest}
}

// ParseScope parses a scope name. Matching ignores case.
func ParseScope(s string) (Scope, error) {
	if s == "" {
		return ScopeAll, nil
	}
	for _, scope := range Scopes() {
		if strings.EqualFold(string(scope), s) {
			return scope, nil
		}
	}
	return "", vaulterr.WithDetails(vaulterr.ErrInvalidScope, map[string]string{"scope": s})
}

// Buckets returns the custody buckets a scope covers, in group order.
func (s Scope) Buckets() []Custody {
	switch s {
	case ScopeAll:
		return []Custody{NonCustodial, Custodial, Interest, Exchange}
	case ScopeNonCustodial:
		return []Custody{NonCustodial}
	case ScopeCustodial:
		return []Custody{Custodial}
	case ScopeInterest:
		return []Custody{Interest}
	default:
		return nil
	}
}

// Includes reports whether the scope covers the custody bucket.
func (s Scope) Includes(c Custody) bool {
	return lo.Contains(s.Buckets(), c)
}

// Group is an ordered, deduplicated set of accounts of one currency.
type Group struct {
	Currency chain.Currency
	Scope    Scope
	Accounts []Account
}

// NewGroup builds a group. Accounts of another currency are dropped and
// the first account with a given ID wins.
func NewGroup(cur chain.Currency, scope Scope, accounts ...Account) *Group {
	same := lo.Filter(accounts, func(a Account, _ int) bool {
		return a != nil && a.Currency() == cur
	})
	return &Group{
		Currency: cur,
		Scope:    scope,
		Accounts: lo.UniqBy(same, func(a Account) string { return a.ID() }),
	}
}

// Len returns the number of accounts.
func (g *Group) Len() int { return len(g.Accounts) }

// IDs returns the account IDs in group order.
func (g *Group) IDs() []string {
	return lo.Map(g.Accounts, func(a Account, _ int) string { return a.ID() })
}

// Find returns the account with the given ID.
func (g *Group) Find(id string) (Account, bool) {
	return lo.Find(g.Accounts, func(a Account) bool { return a.ID() == id })
}

// ByCustody returns the accounts held in one bucket.
func (g *Group) ByCustody(c Custody) []Account {
	return lo.Filter(g.Accounts, func(a Account, _ int) bool { return a.Custody() == c })
}

// Supporting returns the accounts that offer the action.
func (g *Group) Supporting(action Action) []Account {
	return lo.Filter(g.Accounts, func(a Account, _ int) bool {
		return lo.Contains(a.Actions(), action)
	})
}

// Balance sums the balances of every account in the group.
func (g *Group) Balance(ctx context.Context) (money.Value, error) {
	values := make([]money.Value, 0, len(g.Accounts))
	for _, a := range g.Accounts {
		v, err := a.Balance(ctx)
		if err != nil {
			return money.Value{}, err
		}
		values = append(values, v)
	}
	return money.Sum(g.Currency, values...)
}
