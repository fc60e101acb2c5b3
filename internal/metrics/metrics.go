// Package metrics provides process-level counters for remote calls, the
// refreshable caches and the transaction pipeline.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds application metrics using atomic counters for thread safety.
type Metrics struct {
	// Remote ledger calls
	rpcCallsTotal   atomic.Int64
	rpcErrorsTotal  atomic.Int64
	rpcLatencyNanos atomic.Int64

	// Cache metrics
	cacheHits    atomic.Int64
	cacheMisses  atomic.Int64
	cacheFetches atomic.Int64
	cacheFlushes atomic.Int64

	// Pipeline metrics
	candidatesBuilt     atomic.Int64
	candidatesRejected  atomic.Int64
	broadcastsTotal     atomic.Int64
	broadcastsFailed    atomic.Int64
	broadcastDuplicates atomic.Int64

	// Per-endpoint call counts, keyed by client name
	endpointCalls sync.Map // map[string]*atomic.Int64
}

// Global is the global metrics instance.
//
//nolint:gochecknoglobals // Intentional global for metrics access
var Global = &Metrics{}

// RecordRPCCall records a remote call with its duration and outcome.
func (m *Metrics) RecordRPCCall(endpoint string, duration time.Duration, err error) {
	m.rpcCallsTotal.Add(1)
	m.rpcLatencyNanos.Add(duration.Nanoseconds())

	if err != nil {
		m.rpcErrorsTotal.Add(1)
	}

	counter, _ := m.endpointCalls.LoadOrStore(endpoint, &atomic.Int64{})
	counter.(*atomic.Int64).Add(1) //nolint:forcetypeassert // map only holds *atomic.Int64
}

// RecordCacheHit records a read served from a populated cache slot.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// RecordCacheMiss records a read that had to wait for a fetch.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
}

// RecordCacheFetch records a fetch actually issued by a cache.
func (m *Metrics) RecordCacheFetch() {
	m.cacheFetches.Add(1)
}

// RecordCacheFlush records a cache flush.
func (m *Metrics) RecordCacheFlush() {
	m.cacheFlushes.Add(1)
}

// RecordCandidate records a built candidate and whether validation rejected it.
func (m *Metrics) RecordCandidate(rejected bool) {
	m.candidatesBuilt.Add(1)
	if rejected {
		m.candidatesRejected.Add(1)
	}
}

// RecordBroadcast records a publish attempt.
func (m *Metrics) RecordBroadcast(duplicate bool, err error) {
	m.broadcastsTotal.Add(1)
	switch {
	case err != nil:
		m.broadcastsFailed.Add(1)
	case duplicate:
		m.broadcastDuplicates.Add(1)
	}
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	RPCCallsTotal       int64            `json:"rpc_calls_total"`
	RPCErrorsTotal      int64            `json:"rpc_errors_total"`
	RPCLatencyNanos     int64            `json:"rpc_latency_nanos"`
	CacheHits           int64            `json:"cache_hits"`
	CacheMisses         int64            `json:"cache_misses"`
	CacheFetches        int64            `json:"cache_fetches"`
	CacheFlushes        int64            `json:"cache_flushes"`
	CandidatesBuilt     int64            `json:"candidates_built"`
	CandidatesRejected  int64            `json:"candidates_rejected"`
	BroadcastsTotal     int64            `json:"broadcasts_total"`
	BroadcastsFailed    int64            `json:"broadcasts_failed"`
	BroadcastDuplicates int64            `json:"broadcast_duplicates"`
	EndpointCalls       map[string]int64 `json:"endpoint_calls"`
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		RPCCallsTotal:       m.rpcCallsTotal.Load(),
		RPCErrorsTotal:      m.rpcErrorsTotal.Load(),
		RPCLatencyNanos:     m.rpcLatencyNanos.Load(),
		CacheHits:           m.cacheHits.Load(),
		CacheMisses:         m.cacheMisses.Load(),
		CacheFetches:        m.cacheFetches.Load(),
		CacheFlushes:        m.cacheFlushes.Load(),
		CandidatesBuilt:     m.candidatesBuilt.Load(),
		CandidatesRejected:  m.candidatesRejected.Load(),
		BroadcastsTotal:     m.broadcastsTotal.Load(),
		BroadcastsFailed:    m.broadcastsFailed.Load(),
		BroadcastDuplicates: m.broadcastDuplicates.Load(),
		EndpointCalls:       make(map[string]int64),
	}
	m.endpointCalls.Range(func(k, v any) bool {
		s.EndpointCalls[k.(string)] = v.(*atomic.Int64).Load() //nolint:forcetypeassert // map only holds string -> *atomic.Int64
		return true
	})
	return s
}

// Endpoints returns the names of endpoints that have been called, sorted.
func (s Snapshot) Endpoints() []string {
	names := make([]string, 0, len(s.EndpointCalls))
	for name := range s.EndpointCalls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RPCCallsTotal returns the total number of remote calls made.
func (m *Metrics) RPCCallsTotal() int64 {
	return m.rpcCallsTotal.Load()
}

// RPCErrorsTotal returns the total number of failed remote calls.
func (m *Metrics) RPCErrorsTotal() int64 {
	return m.rpcErrorsTotal.Load()
}

// RPCLatencyAvgMs returns the average call latency in milliseconds.
// Returns 0 if no calls have been made.
func (m *Metrics) RPCLatencyAvgMs() float64 {
	calls := m.rpcCallsTotal.Load()
	if calls == 0 {
		return 0
	}
	nanos := m.rpcLatencyNanos.Load()
	return float64(nanos) / float64(calls) / 1e6
}

// CacheHitRate returns the cache hit rate as a percentage (0-100).
// Returns 0 if no cache reads have occurred.
func (m *Metrics) CacheHitRate() float64 {
	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// Reset resets all metrics to zero.
// Useful for testing.
func (m *Metrics) Reset() {
	m.rpcCallsTotal.Store(0)
	m.rpcErrorsTotal.Store(0)
	m.rpcLatencyNanos.Store(0)
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.cacheFetches.Store(0)
	m.cacheFlushes.Store(0)
	m.candidatesBuilt.Store(0)
	m.candidatesRejected.Store(0)
	m.broadcastsTotal.Store(0)
	m.broadcastsFailed.Store(0)
	m.broadcastDuplicates.Store(0)
	m.endpointCalls.Range(func(k, _ any) bool {
		m.endpointCalls.Delete(k)
		return true
	})
}
