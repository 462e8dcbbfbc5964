package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTimeout bounds every shared-tier operation so a slow or partitioned
// Redis never stalls a proxied request.
const redisTimeout = 500 * time.Millisecond

// redisKV is the shared read tier. All operations degrade gracefully: a
// failed get is a miss, a failed set is skipped, and a failed delete is
// logged. The database stays the source of truth either way.
type redisKV struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

func newRedisKV(client *redis.Client, ttl time.Duration, logger *slog.Logger) *redisKV {
	return &redisKV{
		client:  client,
		ttl:     ttl,
		timeout: redisTimeout,
		logger:  logger,
	}
}

func (k *redisKV) get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	val, err := k.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			k.logger.Warn("store_cache_get_error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}

	return val, true
}

// getMany fetches all keys in one MGET. The result only contains hits.
func (k *redisKV) getMany(ctx context.Context, keys []string) map[string][]byte {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	vals, err := k.client.MGet(ctx, keys...).Result()
	if err != nil {
		k.logger.Warn("store_cache_mget_error",
			slog.Int("keys", len(keys)),
			slog.String("error", err.Error()),
		)
		return nil
	}

	hits := make(map[string][]byte, len(keys))
	for i, v := range vals {
		if i >= len(keys) {
			break
		}
		if s, ok := v.(string); ok {
			hits[keys[i]] = []byte(s)
		}
	}
	return hits
}

func (k *redisKV) set(ctx context.Context, key string, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	if err := k.client.Set(ctx, key, data, k.ttl).Err(); err != nil {
		k.logger.Warn("store_cache_set_error",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (k *redisKV) del(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	if err := k.client.Del(ctx, keys...).Err(); err != nil {
		k.logger.Warn("store_cache_del_error",
			slog.Int("keys", len(keys)),
			slog.String("error", err.Error()),
		)
	}
}
