package lockout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisTracker shares lockout state across processes. Failures are counted
// with INCR on a key that expires with the failure window; a lockout is a
// separate key whose TTL is the lockout duration.
type RedisTracker struct {
	redis  *redis.Client
	config *Config
	prefix string
	opts   options
}

// NewRedisTracker creates a Redis-backed tracker
func NewRedisTracker(redisClient *redis.Client, config *Config, prefix string, opts ...Option) *RedisTracker {
	if config == nil {
		config = DefaultConfig()
	}
	if prefix == "" {
		prefix = "authd:lockout"
	}
	return &RedisTracker{
		redis:  redisClient,
		config: config,
		prefix: prefix,
		opts:   buildOptions(opts),
	}
}

func (t *RedisTracker) failKey(key string) string {
	return fmt.Sprintf("%s:fail:%s", t.prefix, key)
}

func (t *RedisTracker) lockKey(key string) string {
	return fmt.Sprintf("%s:lock:%s", t.prefix, key)
}

// IsLocked reports whether key is locked and the remaining TTL of the lock
func (t *RedisTracker) IsLocked(ctx context.Context, key string) (bool, time.Duration, error) {
	k, err := normalize(key)
	if err != nil {
		return false, 0, err
	}

	ttl, err := t.redis.PTTL(ctx, t.lockKey(k)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis error: %w", err)
	}
	// -2 means no key, -1 means no expiry which a lock key never has
	if ttl <= 0 {
		return false, 0, nil
	}
	return true, ttl, nil
}

// RecordFailure increments the failure counter and sets the lock key once
// the threshold is reached
func (t *RedisTracker) RecordFailure(ctx context.Context, key string) (Record, error) {
	k, err := normalize(key)
	if err != nil {
		return Record{}, err
	}
	now := t.opts.now()

	if locked, remaining, err := t.IsLocked(ctx, k); err != nil {
		return Record{}, err
	} else if locked {
		return Record{Key: k, FailureCount: t.config.Threshold, LockedUntil: now.Add(remaining)}, nil
	}

	failKey := t.failKey(k)
	pipe := t.redis.TxPipeline()
	incr := pipe.Incr(ctx, failKey)
	pttl := pipe.PTTL(ctx, failKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Record{}, fmt.Errorf("redis error: %w", err)
	}

	// the first failure starts the window; a counter left without expiry is
	// also given one
	window := pttl.Val()
	if window < 0 {
		if err := t.redis.PExpire(ctx, failKey, t.config.FailureWindow).Err(); err != nil {
			return Record{}, fmt.Errorf("redis error: %w", err)
		}
		window = t.config.FailureWindow
	}

	rec := Record{
		Key:             k,
		FailureCount:    int(incr.Val()),
		WindowStartedAt: now.Add(window - t.config.FailureWindow),
	}
	if rec.FailureCount < t.config.Threshold {
		return rec, nil
	}

	// SETNX so that concurrent callers crossing the threshold do not extend
	// the lock
	set, err := t.redis.SetNX(ctx, t.lockKey(k), rec.FailureCount, t.config.LockoutDuration).Result()
	if err != nil {
		return Record{}, fmt.Errorf("redis error: %w", err)
	}
	if err := t.redis.Del(ctx, failKey).Err(); err != nil {
		return Record{}, fmt.Errorf("redis error: %w", err)
	}
	rec.LockedUntil = now.Add(t.config.LockoutDuration)
	if set {
		t.opts.reportLockout(rec)
	}
	return rec, nil
}

// RecordSuccess deletes the failure counter and any lock
func (t *RedisTracker) RecordSuccess(ctx context.Context, key string) error {
	k, err := normalize(key)
	if err != nil {
		return err
	}
	if err := t.redis.Del(ctx, t.failKey(k), t.lockKey(k)).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

// Failures returns the current failure count for key
func (t *RedisTracker) Failures(ctx context.Context, key string) (int, error) {
	k, err := normalize(key)
	if err != nil {
		return 0, err
	}
	n, err := t.redis.Get(ctx, t.failKey(k)).Int()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}
	return n, nil
}
