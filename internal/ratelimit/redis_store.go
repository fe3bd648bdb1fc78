package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyAttemptPrefix = "gymledger:attempts:"

const registerFailureScript = `
local max = tonumber(ARGV[1])
local block_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])

local failures = redis.call("HINCRBY", KEYS[1], "failures", 1)
local blocked_until = tonumber(redis.call("HGET", KEYS[1], "blocked_until") or "0")
if failures >= max then
  blocked_until = now_ms + block_ms
  redis.call("HSET", KEYS[1], "blocked_until", blocked_until)
end
redis.call("PEXPIRE", KEYS[1], block_ms)

return {failures, blocked_until}
`

// RedisAttemptStore shares attempt counters between instances. Keys expire
// through Redis TTLs.
type RedisAttemptStore struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisAttemptStore(client *redis.Client) *RedisAttemptStore {
	if client == nil {
		return nil
	}
	return &RedisAttemptStore{
		client: client,
		script: redis.NewScript(registerFailureScript),
	}
}

func (s *RedisAttemptStore) Get(ctx context.Context, key string, now time.Time) (Attempt, error) {
	if s == nil || s.client == nil {
		return Attempt{}, errors.New("attempt store not configured")
	}
	values, err := s.client.HMGet(ctx, keyAttemptPrefix+key, "failures", "blocked_until").Result()
	if err != nil {
		return Attempt{}, err
	}
	return Attempt{
		Failures:     int(parseInt(values[0])),
		BlockedUntil: fromMillis(parseInt(values[1])),
	}, nil
}

func (s *RedisAttemptStore) RegisterFailure(ctx context.Context, key string, policy Policy, now time.Time) (Attempt, error) {
	if s == nil || s.client == nil {
		return Attempt{}, errors.New("attempt store not configured")
	}
	raw, err := s.script.Run(ctx, s.client, []string{keyAttemptPrefix + key},
		policy.MaxAttempts,
		policy.Block.Milliseconds(),
		now.UnixMilli(),
	).Result()
	if err != nil {
		return Attempt{}, err
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return Attempt{}, errors.New("unexpected attempt script result")
	}
	return Attempt{
		Failures:     int(parseInt(values[0])),
		BlockedUntil: fromMillis(parseInt(values[1])),
	}, nil
}

func (s *RedisAttemptStore) Reset(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return errors.New("attempt store not configured")
	}
	return s.client.Del(ctx, keyAttemptPrefix+key).Err()
}

func parseInt(value interface{}) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
