package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps each key's attempts in a sorted set scored by
// Unix microseconds. It lets several processes share one budget.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend returns a backend using client. Keys are stored as
// prefix + ":" + key; an empty prefix defaults to "rl".
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) key(k string) string {
	return r.prefix + ":" + k
}

// Check prunes and counts in one MULTI/EXEC.
func (r *RedisBackend) Check(ctx context.Context, key string, rule Rule, now time.Time) (Decision, error) {
	k := r.key(key)
	cutoff := strconv.FormatInt(now.Add(-rule.Window).UnixMicro(), 10)

	var (
		card  *redis.IntCmd
		first *redis.ZSliceCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "-inf", cutoff)
		card = pipe.ZCard(ctx, k)
		first = pipe.ZRangeWithScores(ctx, k, 0, 0)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	count := int(card.Val())
	oldest := first.Val()
	if count == 0 || len(oldest) == 0 {
		return Decision{Allowed: true}, nil
	}
	return decide(count, time.UnixMicro(int64(oldest[0].Score)), rule, now), nil
}

// Record adds now to the set and refreshes the key's TTL to the window.
func (r *RedisBackend) Record(ctx context.Context, key string, rule Rule, now time.Time) error {
	k := r.key(key)
	micros := now.UnixMicro()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, k, redis.Z{
			Score:  float64(micros),
			Member: strconv.FormatInt(micros, 10) + "-" + uuid.NewString(),
		})
		pipe.PExpire(ctx, k, rule.Window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Clear deletes the key.
func (r *RedisBackend) Clear(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
