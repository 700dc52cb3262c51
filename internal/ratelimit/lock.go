package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Deletes the key only while it still carries the caller's token, so a lease
// that expired and was taken by another replica is left alone.
const leaseReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var errLockerNotConfigured = errors.New("lock client not configured")

// Locker hands out exclusive, expiring leases on Redis keys.
type Locker struct {
	client  *redis.Client
	release *redis.Script
}

// Lease is one successful acquisition. Release is safe to call more than once.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(leaseReleaseScript),
	}
}

// Acquire returns a nil lease and no error when another holder owns key.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, errLockerNotConfigured
	}
	if key == "" {
		return nil, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

func (ls *Lease) Release(ctx context.Context) error {
	if ls == nil || ls.token == "" {
		return nil
	}
	err := ls.locker.release.Run(ctx, ls.locker.client, []string{ls.key}, ls.token).Err()
	ls.token = ""
	return err
}
