// Package refresh provides a generic single-slot cache around a fetch
// function. Concurrent readers share one in-flight fetch, values expire after
// a maximum age, periodic refresh runs while there are subscribers, and the
// slot is flushed and refetched on logout and login signals.
package refresh

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mrz1836/coinvault/internal/metrics"
	"github.com/mrz1836/coinvault/internal/session"
)

// State is the lifecycle state of the cache slot.
type State int

// Cache states.
const (
	StateEmpty State = iota
	StateFetching
	StatePopulated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFetching:
		return "fetching"
	case StatePopulated:
		return "populated"
	default:
		return "unknown"
	}
}

// DefaultFetchTimeout bounds a fetch that no caller is waiting for anymore.
const DefaultFetchTimeout = 30 * time.Second

// FetchFunc loads the current value. It receives a context detached from
// the readers that triggered it.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// LogWriter provides logging operations.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

// Options configures a Cache.
type Options struct {
	// Name identifies the cache in logs.
	Name string
	// MaxAge is how long a populated value is served without refetching. Zero never expires.
	MaxAge time.Duration
	// Interval refreshes the slot periodically while there are subscribers. Zero disables.
	Interval time.Duration
	// RefreshOnSubscribe forces one refresh for every new subscriber.
	RefreshOnSubscribe bool
	// FetchTimeout bounds each fetch. Defaults to DefaultFetchTimeout.
	FetchTimeout time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
	// Logger receives debug and error messages. May be nil.
	Logger LogWriter
	// Metrics records hits, misses, fetches and flushes. Defaults to metrics.Global.
	Metrics *metrics.Metrics
}

// Cache is a refreshable single-value slot. The zero value is not usable; use New.
type Cache[T any] struct {
	fetch FetchFunc[T]
	opts  Options
	group singleflight.Group

	mu        sync.Mutex
	gen       uint64 // incremented on flush; fetches of an older generation are discarded
	seq       uint64 // incremented on every completed write
	fetching  int
	populated bool
	stale     bool
	value     T
	fetchedAt time.Time

	subs      map[uint64]func(T)
	nextSub   uint64
	stopTimer chan struct{}
}

// New creates an empty cache around fetch.
func New[T any](fetch FetchFunc[T], opts Options) *Cache[T] {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Global
	}
	return &Cache[T]{
		fetch: fetch,
		opts:  opts,
		subs:  make(map[uint64]func(T)),
	}
}

// State returns the current slot state.
func (c *Cache[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Cache[T]) stateLocked() State {
	switch {
	case c.fetching > 0:
		return StateFetching
	case c.populated:
		return StatePopulated
	default:
		return StateEmpty
	}
}

// Peek returns the cached value without fetching. ok is false when the slot is empty.
func (c *Cache[T]) Peek() (value T, fetchedAt time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.fetchedAt, c.populated
}

// Get returns the cached value while it is fresh, otherwise it waits for a
// fetch. Readers arriving during a fetch attach to it. If ctx ends first the
// caller gets ctx.Err() and the fetch still completes and populates the slot.
func (c *Cache[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	if c.populated && c.fetching == 0 && !c.expiredLocked() {
		v := c.value
		c.mu.Unlock()
		c.opts.Metrics.RecordCacheHit()
		return v, nil
	}
	gen, seq := c.gen, c.seq
	c.mu.Unlock()

	c.opts.Metrics.RecordCacheMiss()
	return c.await(ctx, gen, seq, false)
}

// Refresh forces a fetch, or joins the one already in flight, and returns its result.
func (c *Cache[T]) Refresh(ctx context.Context) (T, error) {
	c.mu.Lock()
	gen, seq := c.gen, c.seq
	c.mu.Unlock()
	return c.await(ctx, gen, seq, true)
}

// Invalidate marks the value stale so the next Get fetches. The value stays
// readable through Peek.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

// Set stores v as if it had just been fetched.
func (c *Cache[T]) Set(v T) {
	c.mu.Lock()
	subs := c.storeLocked(v)
	c.mu.Unlock()
	notify(subs, v)
}

// Flush empties the slot, stops the periodic timer and discards the result
// of any fetch already in flight. The next read always fetches.
func (c *Cache[T]) Flush() {
	c.mu.Lock()
	var zero T
	c.gen++
	c.populated = false
	c.stale = false
	c.value = zero
	c.fetchedAt = time.Time{}
	c.stopTimerLocked()
	c.mu.Unlock()

	c.opts.Metrics.RecordCacheFlush()
	c.logDebug("flushed")
}

// Subscribe registers fn to receive every newly stored value and returns a
// function that removes it. The periodic timer runs while at least one
// subscriber exists.
func (c *Cache[T]) Subscribe(fn func(T)) func() {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = fn
	if c.opts.Interval > 0 && c.stopTimer == nil {
		c.startTimerLocked()
	}
	c.mu.Unlock()

	if c.opts.RefreshOnSubscribe {
		go c.background()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			if len(c.subs) == 0 {
				c.stopTimerLocked()
			}
			c.mu.Unlock()
		})
	}
}

// BindLifecycle flushes the cache on logout and refetches it on login.
// The returned function removes the binding.
func (c *Cache[T]) BindLifecycle(src session.Source) func() {
	return src.Subscribe(func(e session.Event) {
		switch e {
		case session.EventLogout:
			c.Flush()
		case session.EventLogin:
			c.Flush()
			go c.background()
		}
	})
}

// await joins or starts the fetch for generation gen. Unless force is set, a
// write that completed after the caller looked at the slot is returned as is.
func (c *Cache[T]) await(ctx context.Context, gen, seq uint64, force bool) (T, error) {
	ch := c.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		return c.run(gen, seq, force)
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			var zero T
			return zero, r.Err
		}
		v, _ := r.Val.(T)
		return v, nil
	}
}

func (c *Cache[T]) run(gen, seq uint64, force bool) (any, error) {
	c.mu.Lock()
	if !force && c.gen == gen && c.seq != seq && c.populated && !c.expiredLocked() {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}
	c.fetching++
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.FetchTimeout)
	defer cancel()

	c.opts.Metrics.RecordCacheFetch()
	v, err := c.fetch(ctx)

	c.mu.Lock()
	c.fetching--
	if err != nil {
		c.mu.Unlock()
		c.logError("fetch failed: %v", err)
		return v, err
	}
	if c.gen != gen {
		c.mu.Unlock()
		c.logDebug("discarding result fetched before flush")
		return v, nil
	}
	subs := c.storeLocked(v)
	c.mu.Unlock()

	notify(subs, v)
	return v, nil
}

func (c *Cache[T]) storeLocked(v T) []func(T) {
	c.value = v
	c.fetchedAt = c.opts.Now()
	c.populated = true
	c.stale = false
	c.seq++

	subs := make([]func(T), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	return subs
}

func (c *Cache[T]) expiredLocked() bool {
	if c.stale {
		return true
	}
	if c.opts.MaxAge <= 0 {
		return false
	}
	return c.opts.Now().Sub(c.fetchedAt) >= c.opts.MaxAge
}

func (c *Cache[T]) startTimerLocked() {
	stop := make(chan struct{})
	c.stopTimer = stop
	interval := c.opts.Interval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.background()
			}
		}
	}()
}

func (c *Cache[T]) stopTimerLocked() {
	if c.stopTimer != nil {
		close(c.stopTimer)
		c.stopTimer = nil
	}
}

// background refreshes without a waiting caller. Errors are only logged.
func (c *Cache[T]) background() {
	if _, err := c.Refresh(context.Background()); err != nil {
		c.logError("background refresh failed: %v", err)
	}
}

func (c *Cache[T]) logDebug(format string, args ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Debug("cache %s: "+format, append([]any{c.opts.Name}, args...)...)
	}
}

func (c *Cache[T]) logError(format string, args ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Error("cache %s: "+format, append([]any{c.opts.Name}, args...)...)
	}
}

func notify[T any](subs []func(T), v T) {
	for _, fn := range subs {
		fn(v)
	}
}
