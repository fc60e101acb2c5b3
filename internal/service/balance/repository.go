package balance

import (
	"context"
	"time"

	"github.com/mrz1836/coinvault/internal/cache"
	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/metrics"
	"github.com/mrz1836/coinvault/internal/refresh"
	"github.com/mrz1836/coinvault/internal/session"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// RepositoryConfig holds the dependencies of one account repository.
type RepositoryConfig struct {
	Currency chain.Currency
	Address  string
	Fetcher  chain.BalanceFetcher

	// Store persists every fetched state. Optional.
	Store cache.Store

	MaxAge   time.Duration
	Interval time.Duration
	Now      func() time.Time
	Metrics  *metrics.Metrics
	Logger   LogWriter
}

// Repository serves the details of one account from a single-slot
// refreshable cache. Errors from the ledger propagate unchanged; retries
// belong to the transport.
type Repository struct {
	currency chain.Currency
	address  string
	fetcher  chain.BalanceFetcher
	store    cache.Store
	slot     *refresh.Cache[AccountDetails]
	logger   LogWriter
}

// NewRepository creates the repository of one account.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Fetcher == nil {
		return nil, vaulterr.WithDetails(vaulterr.ErrUnsupportedAsset, map[string]string{
			"currency":  cfg.Currency.Code,
			"operation": "balance fetch",
		})
	}
	if cfg.Address == "" {
		return nil, vaulterr.WithDetails(vaulterr.ErrInvalidAddress, map[string]string{"reason": "empty address"})
	}

	r := &Repository{
		currency: cfg.Currency,
		address:  cfg.Address,
		fetcher:  cfg.Fetcher,
		store:    cfg.Store,
		logger:   cfg.Logger,
	}
	var slotLogger refresh.LogWriter
	if cfg.Logger != nil {
		slotLogger = cfg.Logger
	}
	r.slot = refresh.New(r.fetch, refresh.Options{
		Name:     cache.Key(cfg.Currency, cfg.Address),
		MaxAge:   cfg.MaxAge,
		Interval: cfg.Interval,
		Now:      cfg.Now,
		Metrics:  cfg.Metrics,
		Logger:   slotLogger,
	})
	return r, nil
}

// Currency returns the account currency.
func (r *Repository) Currency() chain.Currency {
	return r.currency
}

// Address returns the account address.
func (r *Repository) Address() string {
	return r.address
}

// CurrentDetails returns the account details. With fromCache set, a fresh
// populated slot is returned without network I/O and an empty or expired
// slot is fetched. Without it the ledger is always read. Every fetch
// updates the slot for other readers.
func (r *Repository) CurrentDetails(ctx context.Context, fromCache bool) (AccountDetails, error) {
	if fromCache {
		return r.slot.Get(ctx)
	}
	return r.slot.Refresh(ctx)
}

// Cached returns the slot contents without fetching.
func (r *Repository) Cached() (AccountDetails, bool) {
	d, _, ok := r.slot.Peek()
	return d, ok
}

// State returns the slot state.
func (r *Repository) State() refresh.State {
	return r.slot.State()
}

// Invalidate marks the slot stale, e.g. after a broadcast changed the account.
func (r *Repository) Invalidate() {
	r.slot.Invalidate()
}

// Flush empties the slot.
func (r *Repository) Flush() {
	r.slot.Flush()
}

// Subscribe registers fn for every newly fetched value.
func (r *Repository) Subscribe(fn func(AccountDetails)) func() {
	return r.slot.Subscribe(fn)
}

// BindLifecycle flushes the slot on logout and refetches it on login.
func (r *Repository) BindLifecycle(src session.Source) func() {
	return r.slot.BindLifecycle(src)
}

func (r *Repository) fetch(ctx context.Context) (AccountDetails, error) {
	state, err := r.fetcher.FetchState(ctx, r.currency, r.address)
	if err != nil {
		return AccountDetails{}, err
	}
	if state.FetchedAt.IsZero() {
		state.FetchedAt = time.Now()
	}
	details := DetailsFromState(state)

	if r.store != nil {
		if err := r.store.Put(ctx, snapshotFromDetails(details)); err != nil {
			r.logError("persisting snapshot of %s %s: %v", r.currency, r.address, err)
		}
	}
	return details, nil
}

func (r *Repository) logError(format string, args ...any) {
	if r.logger != nil {
		r.logger.Error(format, args...)
	}
}
