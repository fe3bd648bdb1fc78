package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const keyLockPrefix = "gymledger:lock:"

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var ErrLockNotConfigured = errors.New("lock_not_configured")

// Lease identifies a held lock. Only the holder's token can release it.
type Lease struct {
	Key   string
	Token string
}

// Locker is a Redis mutex used to keep scheduled jobs single-flight across
// instances. The TTL bounds how long a crashed holder blocks others.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	if l == nil || l.client == nil {
		return Lease{}, false, ErrLockNotConfigured
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Lease{}, false, errors.New("lock name is empty")
	}
	if ttl <= 0 {
		return Lease{}, false, errors.New("lock ttl must be positive")
	}

	lease := Lease{Key: keyLockPrefix + name, Token: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, lease.Key, lease.Token, ttl).Result()
	if err != nil {
		return Lease{}, false, err
	}
	if !ok {
		return Lease{}, false, nil
	}
	return lease, true, nil
}

// Release deletes the lock only if lease still owns it.
func (l *Locker) Release(ctx context.Context, lease Lease) error {
	if l == nil || l.client == nil {
		return nil
	}
	if lease.Key == "" || lease.Token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{lease.Key}, lease.Token).Err()
}
