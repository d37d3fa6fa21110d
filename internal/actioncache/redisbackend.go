package actioncache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures a cross-process action cache, for deployments
// that run several dispatcher instances behind a shared idempotence store.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	Expiration time.Duration
}

// storedEntry is the JSON wire shape for a cached Entry; Entry.Err is
// flattened to its message since errors don't round-trip through JSON.
type storedEntry struct {
	ErrMessage string      `json:"err,omitempty"`
	Result     interface{} `json:"result"`
	MetaID     string      `json:"meta_id"`
	When       time.Time   `json:"when"`
}

// replayedError is what Get reconstructs ErrMessage into — callers compare
// its text, not its identity, since the original error type is lost across
// the cache boundary.
type replayedError struct{ msg string }

func (e *replayedError) Error() string { return e.msg }

// RedisBackend is a Backend backed by a shared redis instance, letting
// several dispatcher processes share one idempotence store. Keys are
// prefixed and given a TTL so the store doesn't grow without bound the way
// the in-process LRU is bounded by entry count.
type RedisBackend struct {
	rdb    *redis.Client
	logger *zap.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisBackend connects to redis and verifies reachability with a ping,
// mirroring the dispatcher's other infrastructure clients.
func NewRedisBackend(cfg RedisConfig, logger *zap.Logger) (*RedisBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("actioncache: connect to redis: %w", err)
	}

	ttl := cfg.Expiration
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	logger.Debug("actioncache redis backend connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))

	return &RedisBackend{rdb: rdb, logger: logger, prefix: cfg.KeyPrefix, ttl: ttl}, nil
}

func (b *RedisBackend) key(actionID string) string {
	return b.prefix + actionID
}

// Get fetches and decodes the cached entry for actionID, treating any
// redis or decode error as a cache miss rather than propagating it — a
// cache backend failure must never fail the call it's backing.
func (b *RedisBackend) Get(actionID string) (Entry, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := b.rdb.Get(ctx, b.key(actionID)).Result()
	if err == redis.Nil {
		return Entry{}, false
	}
	if err != nil {
		b.logger.Warn("actioncache redis get failed", zap.String("actid", actionID), zap.Error(err))
		return Entry{}, false
	}

	var stored storedEntry
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		b.logger.Warn("actioncache redis decode failed", zap.String("actid", actionID), zap.Error(err))
		return Entry{}, false
	}

	entry := Entry{Result: stored.Result, MetaID: stored.MetaID, When: stored.When}
	if stored.ErrMessage != "" {
		entry.Err = &replayedError{msg: stored.ErrMessage}
	}
	return entry, true
}

// Set encodes and stores entry with the backend's configured TTL. Failures
// are logged, never returned — caching is best-effort.
func (b *RedisBackend) Set(actionID string, entry Entry) {
	stored := storedEntry{Result: entry.Result, MetaID: entry.MetaID, When: entry.When}
	if entry.Err != nil {
		stored.ErrMessage = entry.Err.Error()
	}

	data, err := json.Marshal(stored)
	if err != nil {
		b.logger.Warn("actioncache redis encode failed", zap.String("actid", actionID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := b.rdb.Set(ctx, b.key(actionID), data, b.ttl).Err(); err != nil {
		b.logger.Warn("actioncache redis set failed", zap.String("actid", actionID), zap.Error(err))
	}
}

// Len reports the number of keys under this backend's prefix. It is O(n)
// over the keyspace (redis has no prefixed COUNT) and intended for
// diagnostics, not the hot path.
func (b *RedisBackend) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	iter := b.rdb.Scan(ctx, 0, b.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count
}

// Close releases the underlying redis connection pool.
func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}
