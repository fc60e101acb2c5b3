package account

import (
	"context"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/money"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// DefaultMaxConcurrent bounds the number of currencies a portfolio reads at once.
const DefaultMaxConcurrent = 4

// Source lists the accounts of one custody bucket for a currency.
type Source interface {
	Accounts(ctx context.Context, cur chain.Currency) ([]Account, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, cur chain.Currency) ([]Account, error)

// Accounts implements Source.
func (f SourceFunc) Accounts(ctx context.Context, cur chain.Currency) ([]Account, error) {
	return f(ctx, cur)
}

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

// RegistryConfig wires the per-bucket sources. A nil source contributes no accounts.
type RegistryConfig struct {
	Currencies    []chain.Currency
	NonCustodial  Source
	Custodial     Source
	Interest      Source
	Exchange      Source
	MaxConcurrent int
	Logger        LogWriter
}

// Registry composes account groups and portfolios. It is read-only.
type Registry struct {
	currencies    []chain.Currency
	sources       map[Custody]Source
	maxConcurrent int
	logger        LogWriter
}

// NewRegistry creates a registry.
func NewRegistry(cfg *RegistryConfig) *Registry {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	sources := make(map[Custody]Source, 4)
	for custody, src := range map[Custody]Source{
		NonCustodial: cfg.NonCustodial,
		Custodial:    cfg.Custodial,
		Interest:     cfg.Interest,
		Exchange:     cfg.Exchange,
	} {
		if src != nil {
			sources[custody] = src
		}
	}
	return &Registry{
		currencies:    lo.Uniq(cfg.Currencies),
		sources:       sources,
		maxConcurrent: maxConcurrent,
		logger:        cfg.Logger,
	}
}

// Currencies returns the registered currencies in portfolio order.
func (r *Registry) Currencies() []chain.Currency {
	return append([]chain.Currency(nil), r.currencies...)
}

// AccountGroup returns the accounts of cur covered by scope. Every bucket of
// the scope is read concurrently and each error is mapped on its own before
// the results are merged, so one bucket never cancels another. An exchange
// without a linked account contributes nothing.
func (r *Registry) AccountGroup(ctx context.Context, cur chain.Currency, scope Scope) (*Group, error) {
	buckets := scope.Buckets()
	if len(buckets) == 0 {
		return nil, vaulterr.WithDetails(vaulterr.ErrInvalidScope, map[string]string{"scope": string(scope)})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([][]Account, len(buckets))
	errs := make([]error, len(buckets))

	var wg sync.WaitGroup
	for i, custody := range buckets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = r.bucket(ctx, custody, cur)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return NewGroup(cur, scope, lo.Flatten(results)...), nil
}

// bucket reads one source and maps its error.
func (r *Registry) bucket(ctx context.Context, custody Custody, cur chain.Currency) ([]Account, error) {
	src, ok := r.sources[custody]
	if !ok {
		return nil, nil
	}
	accounts, err := src.Accounts(ctx, cur)
	if err == nil {
		return accounts, nil
	}
	if custody == Exchange && vaulterr.Is(err, vaulterr.ErrNoLinkedAccount) {
		r.debug("no linked exchange account for %s", cur.Code)
		return nil, nil
	}
	r.logError("%s accounts for %s: %v", custody, cur.Code, err)
	return nil, err
}

// PortfolioEntry is the group and total of one currency.
type PortfolioEntry struct {
	Currency chain.Currency
	Group    *Group
	Total    money.Value
	Err      error
}

// Portfolio is every registered currency viewed through one scope.
type Portfolio struct {
	Scope   Scope
	Entries []PortfolioEntry
}

// Entry returns the entry for cur.
func (p *Portfolio) Entry(cur chain.Currency) (PortfolioEntry, bool) {
	return lo.Find(p.Entries, func(e PortfolioEntry) bool { return e.Currency == cur })
}

// Failed returns the entries that could not be read.
func (p *Portfolio) Failed() []PortfolioEntry {
	return lo.Filter(p.Entries, func(e PortfolioEntry, _ int) bool { return e.Err != nil })
}

// Portfolio reads every registered currency with at most MaxConcurrent in
// flight. Entries follow currency registration order. A failing currency is
// reported in its entry and does not fail the portfolio.
func (r *Registry) Portfolio(ctx context.Context, scope Scope) (*Portfolio, error) {
	if len(scope.Buckets()) == 0 {
		return nil, vaulterr.WithDetails(vaulterr.ErrInvalidScope, map[string]string{"scope": string(scope)})
	}

	entries := make([]PortfolioEntry, len(r.currencies))
	sem := semaphore.NewWeighted(int64(r.maxConcurrent))

	var wg sync.WaitGroup
	for i, cur := range r.currencies {
		entries[i].Currency = cur
		if err := sem.Acquire(ctx, 1); err != nil {
			entries[i].Err = err
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			entries[i] = r.entry(ctx, cur, scope)
		}()
	}
	wg.Wait()

	return &Portfolio{Scope: scope, Entries: entries}, nil
}

func (r *Registry) entry(ctx context.Context, cur chain.Currency, scope Scope) PortfolioEntry {
	e := PortfolioEntry{Currency: cur}
	group, err := r.AccountGroup(ctx, cur, scope)
	if err != nil {
		e.Err = err
		return e
	}
	e.Group = group
	if e.Total, err = group.Balance(ctx); err != nil {
		e.Err = err
	}
	return e
}

func (r *Registry) debug(format string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(format, args...)
	}
}

func (r *Registry) logError(format string, args ...any) {
	if r.logger != nil {
		r.logger.Error(format, args...)
	}
}
