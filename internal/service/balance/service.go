package balance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mrz1836/coinvault/internal/cache"
	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/metrics"
	"github.com/mrz1836/coinvault/internal/refresh"
	"github.com/mrz1836/coinvault/internal/session"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// defaultMaxConcurrent bounds batch fan-out when the request does not.
const defaultMaxConcurrent = 8

// Config holds the configuration for the balance service.
type Config struct {
	Registry       *chain.Registry
	Store          cache.Store // optional snapshot store
	ConfigProvider ConfigProvider
	Session        session.Source // optional; binds every repository to login and logout
	Metrics        *metrics.Metrics
	Logger         LogWriter
	Now            func() time.Time
}

// Service owns one Repository per account and serves reads with a
// persisted-snapshot fallback when the ledger is unreachable.
type Service struct {
	registry *chain.Registry
	store    cache.Store
	policy   *RefreshPolicy
	session  session.Source
	maxAge   time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
	logger   LogWriter
	now      func() time.Time

	mu    sync.Mutex
	repos map[string]*Repository

	// Snapshots are served from cache only for accounts read live since
	// the last logout.
	logouts uint64
	liveAt  map[string]uint64
}

// NewService creates a new balance service.
func NewService(cfg *Config) *Service {
	s := &Service{
		registry: cfg.Registry,
		store:    cfg.Store,
		session:  cfg.Session,
		maxAge:   cache.DefaultStaleness,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
		repos:    make(map[string]*Repository),
		liveAt:   make(map[string]uint64),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if cfg.ConfigProvider != nil {
		if age := cfg.ConfigProvider.GetCacheMaxAge(); age > 0 {
			s.maxAge = age
		}
		s.interval = cfg.ConfigProvider.GetCacheInterval()
	}
	s.policy = NewRefreshPolicy(s.now)
	if s.session != nil {
		s.session.Subscribe(s.onLifecycle)
	}
	return s
}

func (s *Service) onLifecycle(e session.Event) {
	if e != session.EventLogout {
		return
	}
	s.mu.Lock()
	s.logouts++
	s.mu.Unlock()
	s.logDebug("logout: persisted snapshots withheld until the next live read")
}

// snapshotTrusted reports whether the account was read live since the last logout.
func (s *Service) snapshotTrusted(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveAt[key] >= s.logouts
}

func (s *Service) markLive(key string) {
	s.mu.Lock()
	s.liveAt[key] = s.logouts
	s.mu.Unlock()
}

// Repository returns the repository of an account, creating it on first use.
func (s *Service) Repository(cur chain.Currency, address string) (*Repository, error) {
	key := cache.Key(cur, address)

	s.mu.Lock()
	defer s.mu.Unlock()
	if repo, ok := s.repos[key]; ok {
		return repo, nil
	}

	fetcher, err := s.registry.Balances(cur)
	if err != nil {
		return nil, err
	}
	repo, err := NewRepository(RepositoryConfig{
		Currency: cur,
		Address:  address,
		Fetcher:  fetcher,
		Store:    s.store,
		MaxAge:   s.maxAge,
		Interval: s.interval,
		Now:      s.now,
		Metrics:  s.metrics,
		Logger:   s.logger,
	})
	if err != nil {
		return nil, err
	}
	if s.session != nil {
		repo.BindLifecycle(s.session)
	}
	s.repos[key] = repo
	return repo, nil
}

// FetchBalance reads one account. With FromCache set a fresh slot, or a
// persisted snapshot the refresh policy accepts, is served without network
// I/O. After a logout the snapshot is not served from cache until the
// account has been read live again. A network failure falls back to the
// persisted snapshot when one exists; the result is then marked stale and
// carries the error.
func (s *Service) FetchBalance(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	repo, err := s.Repository(req.Currency, req.Address)
	if err != nil {
		return nil, err
	}
	key := cache.Key(req.Currency, req.Address)

	if req.FromCache && repo.State() != refresh.StatePopulated && s.snapshotTrusted(key) {
		if d, ok := s.acceptableSnapshot(ctx, req.Currency, req.Address); ok {
			return &FetchResult{Details: d, Stale: true}, nil
		}
	}

	fetchCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	details, err := repo.CurrentDetails(fetchCtx, req.FromCache)
	if err == nil {
		s.markLive(key)
		return &FetchResult{Details: details}, nil
	}
	if !isNetworkFailure(err) {
		return nil, err
	}

	snap, ok := s.snapshot(ctx, req.Currency, req.Address)
	if !ok {
		return nil, err
	}
	d, snapErr := detailsFromSnapshot(req.Currency, snap)
	if snapErr != nil {
		s.logError("restoring snapshot of %s %s: %v", req.Currency, req.Address, snapErr)
		return nil, err
	}
	s.logDebug("serving %s %s from snapshot after fetch error: %v", req.Currency, req.Address, err)
	return &FetchResult{Details: d, Stale: true, Error: err}, nil
}

// FetchBalances reads several accounts concurrently. Each account is
// fetched independently; one failure never cancels the others.
func (s *Service) FetchBalances(ctx context.Context, req *FetchBatchRequest) *FetchBatchResult {
	out := &FetchBatchResult{Results: make([]*FetchResult, len(req.Accounts))}

	maxConcurrent := req.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0

	for i, account := range req.Accounts {
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				out.Errors = append(out.Errors, ctx.Err())
				mu.Unlock()
				return
			}
			defer func() { <-sem }()

			result, err := s.FetchBalance(ctx, account)

			mu.Lock()
			defer mu.Unlock()
			out.Results[i] = result
			if err != nil {
				out.Errors = append(out.Errors, err)
			}
			completed++
			if req.ProgressCallback != nil {
				req.ProgressCallback(ProgressUpdate{
					Total:     len(req.Accounts),
					Completed: completed,
					Currency:  account.Currency,
					Address:   account.Address,
				})
			}
		}()
	}

	wg.Wait()
	return out
}

// Invalidate marks an account stale after a broadcast so the next read
// fetches. The persisted snapshot is removed as it no longer reflects the ledger.
func (s *Service) Invalidate(ctx context.Context, cur chain.Currency, address string) {
	s.mu.Lock()
	repo := s.repos[cache.Key(cur, address)]
	s.mu.Unlock()

	if repo != nil {
		repo.Invalidate()
	}
	if s.store != nil {
		if err := s.store.Delete(ctx, cur, address); err != nil {
			s.logError("deleting snapshot of %s %s: %v", cur, address, err)
		}
	}
}

// Flush empties every repository slot.
func (s *Service) Flush() {
	s.mu.Lock()
	repos := make([]*Repository, 0, len(s.repos))
	for _, r := range s.repos {
		repos = append(repos, r)
	}
	s.mu.Unlock()

	for _, r := range repos {
		r.Flush()
	}
}

func (s *Service) acceptableSnapshot(ctx context.Context, cur chain.Currency, address string) (AccountDetails, bool) {
	snap, ok := s.snapshot(ctx, cur, address)
	if !ok || s.policy.ShouldRefresh(snap) != CacheOK {
		return AccountDetails{}, false
	}
	d, err := detailsFromSnapshot(cur, snap)
	if err != nil {
		return AccountDetails{}, false
	}
	return d, true
}

func (s *Service) snapshot(ctx context.Context, cur chain.Currency, address string) (cache.Snapshot, bool) {
	if s.store == nil {
		return cache.Snapshot{}, false
	}
	snap, ok, err := s.store.Get(ctx, cur, address)
	if err != nil {
		s.logError("reading snapshot of %s %s: %v", cur, address, err)
		return cache.Snapshot{}, false
	}
	return snap, ok
}

// isNetworkFailure reports whether err means the ledger could not be read,
// as opposed to a rejected request.
func isNetworkFailure(err error) bool {
	return vaulterr.ClassOf(err) == vaulterr.ClassNetwork || errors.Is(err, context.DeadlineExceeded)
}

func (s *Service) logDebug(format string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(format, args...)
	}
}

func (s *Service) logError(format string, args ...any) {
	if s.logger != nil {
		s.logger.Error(format, args...)
	}
}
