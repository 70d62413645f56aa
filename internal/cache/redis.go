package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	pkglog "github.com/weiawesome/games-society/pkg/log"
)

const (
	countKeyPrefix  = "games:count:"
	hotKeyScoresKey = "games:hotkey:scores"
)

// RedisConfig configures the Redis counter store.
type RedisConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RedisCounterStore implements CounterStore backed by Redis.
type RedisCounterStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCounterStore connects to Redis and verifies the connection.
func NewRedisCounterStore(cfg RedisConfig) (*RedisCounterStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCounterStore{client: client, ttl: cfg.TTL}, nil
}

// NewRedisCounterStoreFromClient wraps an existing client.
func NewRedisCounterStoreFromClient(client *redis.Client, ttl time.Duration) *RedisCounterStore {
	return &RedisCounterStore{client: client, ttl: ttl}
}

// Client exposes the underlying client so other components can share it.
func (s *RedisCounterStore) Client() *redis.Client { return s.client }

func countKey(c Counter) string {
	return countKeyPrefix + c.String()
}

// Get returns (count, true, nil) on hit and (0, false, nil) on miss.
func (s *RedisCounterStore) Get(ctx context.Context, c Counter) (int64, bool, error) {
	val, err := s.client.Get(ctx, countKey(c)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("redis get %s: %w", c, err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", c, err)
	}
	return n, true, nil
}

func (s *RedisCounterStore) Set(ctx context.Context, c Counter, n int64) error {
	if err := s.client.Set(ctx, countKey(c), n, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c, err)
	}
	return nil
}

// condIncrScript increments KEYS[1] only if it exists.
var condIncrScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
  return redis.call("INCR", key)
end
return 0
`)

// condDecrScript decrements KEYS[1] only if it exists and is positive.
var condDecrScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
  local val = tonumber(redis.call("GET", key))
  if val and val > 0 then
    return redis.call("DECR", key)
  end
end
return 0
`)

func (s *RedisCounterStore) CondIncr(ctx context.Context, c Counter) error {
	err := condIncrScript.Run(ctx, s.client, []string{countKey(c)}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis cond incr %s: %w", c, err)
	}
	return nil
}

func (s *RedisCounterStore) CondDecr(ctx context.Context, c Counter) error {
	err := condDecrScript.Run(ctx, s.client, []string{countKey(c)}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis cond decr %s: %w", c, err)
	}
	return nil
}

// RecordAccess bumps c's score in the hot key sorted set.
func (s *RedisCounterStore) RecordAccess(ctx context.Context, c Counter) error {
	if err := s.client.ZIncrBy(ctx, hotKeyScoresKey, 1, c.String()).Err(); err != nil {
		return fmt.Errorf("redis record access: %w", err)
	}
	return nil
}

// TopHotKeys returns the n most read counters, skipping unparsable members.
func (s *RedisCounterStore) TopHotKeys(ctx context.Context, n int64) ([]Counter, error) {
	members, err := s.client.ZRevRange(ctx, hotKeyScoresKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get top hot keys: %w", err)
	}
	out := make([]Counter, 0, len(members))
	for _, m := range members {
		c, err := ParseCounter(m)
		if err != nil {
			l := pkglog.L()
			l.Warn().Err(err).Msg("skipping hot key")
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *RedisCounterStore) ResetHotKeys(ctx context.Context) error {
	if err := s.client.Del(ctx, hotKeyScoresKey).Err(); err != nil {
		return fmt.Errorf("redis reset hot key scores: %w", err)
	}
	return nil
}

func (s *RedisCounterStore) Close() error {
	return s.client.Close()
}

var _ CounterStore = (*RedisCounterStore)(nil)
