package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mrz1836/coinvault/internal/chain"
)

// DefaultRedisPrefix namespaces snapshot keys.
const DefaultRedisPrefix = "coinvault:details"

// redisClient is the subset of redis.UniversalClient the store uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // defaults to DefaultRedisPrefix
	TTL      time.Duration // zero keeps snapshots until overwritten
}

// RedisStore keeps snapshots in Redis as JSON strings so several processes
// share the same last-known details.
type RedisStore struct {
	client redisClient
	closer func() error
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to a single Redis server.
func NewRedisStore(opts RedisOptions) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	s := newRedisStore(rdb, opts)
	s.closer = rdb.Close
	return s
}

func newRedisStore(client redisClient, opts RedisOptions) *RedisStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: opts.TTL}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, cur chain.Currency, address string) (Snapshot, bool, error) {
	raw, err := s.client.Get(ctx, s.key(Key(cur, address))).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("reading snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: %w", ErrCorruptCache, err)
	}
	return snap, true, nil
}

// Put implements Store. A zero UpdatedAt is set to now.
func (s *RedisStore) Put(ctx context.Context, snap Snapshot) error {
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(snapKey(snap)), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, cur chain.Currency, address string) error {
	if err := s.client.Del(ctx, s.key(Key(cur, address))).Err(); err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}
