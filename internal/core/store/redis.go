package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/faultline/faultline/internal/config"
	"github.com/faultline/faultline/internal/core"
)

const (
	defaultRedisPrefix  = "faultline:ratelimit:"
	defaultRedisLockTTL = 5 * time.Second
	redisLockRetry      = 25 * time.Millisecond
)

// releaseLockScript deletes the lock only when it still holds our token.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStateStore shares limiter state between hosts through redis.
type RedisStateStore struct {
	Client  redis.UniversalClient
	Prefix  string
	LockTTL time.Duration
}

// NewRedisStateStore connects to the configured redis server.
func NewRedisStateStore(ctx context.Context, cfg config.RedisConfig) (*RedisStateStore, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStateStore{Client: client, Prefix: cfg.Prefix, LockTTL: cfg.LockTTL}, nil
}

// Close releases the redis connection.
func (s *RedisStateStore) Close() error {
	if s == nil || s.Client == nil {
		return nil
	}
	return s.Client.Close()
}

func (s *RedisStateStore) GetLimiterState(ctx context.Context, key string) (*core.LimiterState, error) {
	if s == nil || s.Client == nil {
		return nil, errors.New("redis store is not initialized")
	}

	data, err := s.Client.Get(ctx, s.stateKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate limiter: %w", err)
	}

	var state core.LimiterState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode rate limiter %s: %w", key, err)
	}
	return &state, nil
}

// UpdateLimiterState writes the state. Entries expire once every recorded
// send has aged out of the longest window.
func (s *RedisStateStore) UpdateLimiterState(ctx context.Context, key string, state *core.LimiterState) error {
	if s == nil || s.Client == nil {
		return errors.New("redis store is not initialized")
	}
	if state == nil {
		return errors.New("rate limit state is required")
	}

	doc := *state
	doc.PersistenceFile = key
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode rate limiter: %w", err)
	}

	if err := s.Client.Set(ctx, s.stateKey(key), data, stateTTL(doc.Limits)).Err(); err != nil {
		return fmt.Errorf("store rate limiter: %w", err)
	}
	return nil
}

// LockLimiterState acquires a SET NX lock with a token, retrying until the
// lock TTL elapses or ctx is done.
func (s *RedisStateStore) LockLimiterState(ctx context.Context, key string) (func() error, error) {
	if s == nil || s.Client == nil {
		return nil, errors.New("redis store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = defaultRedisLockTTL
	}
	lockKey := s.stateKey(key) + ":lock"
	token := uuid.NewString()
	deadline := time.Now().Add(ttl)

	for {
		acquired, err := s.Client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock rate limiter: %w", err)
		}
		if acquired {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock rate limiter: %s is held by another writer", lockKey)
		}

		timer := time.NewTimer(redisLockRetry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("lock rate limiter: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return func() error {
		// The caller's ctx may be cancelled by the time the lock is released.
		releaseCtx, cancel := context.WithTimeout(context.Background(), ttl)
		defer cancel()
		return releaseLockScript.Run(releaseCtx, s.Client, []string{lockKey}, token).Err()
	}, nil
}

// ResetLimiterState deletes the stored state.
func (s *RedisStateStore) ResetLimiterState(ctx context.Context, key string) (bool, error) {
	if s == nil || s.Client == nil {
		return false, errors.New("redis store is not initialized")
	}
	removed, err := s.Client.Del(ctx, s.stateKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("reset rate limiter: %w", err)
	}
	return removed > 0, nil
}

func (s *RedisStateStore) stateKey(key string) string {
	prefix := s.Prefix
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRedisPrefix
	}
	return prefix + strings.TrimSpace(key)
}

func stateTTL(limits []core.SendLimit) time.Duration {
	var longest time.Duration
	for _, limit := range limits {
		if limit.Window > longest {
			longest = limit.Window
		}
	}
	if longest <= 0 {
		return 0
	}
	// Keep the config around a little longer than the history it guards.
	return longest + time.Hour
}
