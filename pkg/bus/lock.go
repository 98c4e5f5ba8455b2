package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by AcquireLock when another holder owns the key.
var ErrLockHeld = errors.New("lock is held by another owner")

// Release and refresh are compare-and-act on the holder token so a lock
// that expired and was re-acquired elsewhere cannot be released or
// extended by the stale holder.
var (
	releaseScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0`)

	refreshScript = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		end
		return 0`)
)

// Lock is a held distributed lock. Not safe for concurrent use.
type Lock struct {
	c     *Client
	key   string
	token string
	ttl   time.Duration
}

// AcquireLock takes the named lock for ttl, or fails fast with ErrLockHeld.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	token := uuid.New().String()
	key := "hornet:lock:" + name
	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{c: c, key: key, token: token, ttl: ttl}, nil
}

// Release frees the lock if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.c.rdb, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("release lock %s: no longer the holder", l.key)
	}
	return nil
}

// Refresh extends the TTL if this holder still owns the lock.
func (l *Lock) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.c.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("refresh lock %s: no longer the holder", l.key)
	}
	return nil
}
