// internal/lock/redis.go
//
// Redis backend: SET NX PX with a random token, polled until the timeout,
// released by a compare-and-delete script so a late caller never frees a
// lock it lost to lease expiry.
//
// The lease bounds how long a crashed process can keep others out.  It must
// exceed the longest critical section; NewRedis defaults it to 30 s.

package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLease   = 30 * time.Second
	defaultPollMin = 10 * time.Millisecond
	defaultPollMax = 250 * time.Millisecond
	keyPrefix      = "lock:"
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisClient is the subset of *redis.Client the backend uses.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// Redis implements Service on a single redis node.
type Redis struct {
	client RedisClient
	lease  time.Duration
}

// NewRedis returns a backend with the given lease; zero means 30 s.
func NewRedis(client RedisClient, lease time.Duration) *Redis {
	if lease <= 0 {
		lease = defaultLease
	}
	return &Redis{client: client, lease: lease}
}

var _ Service = (*Redis)(nil)

// Acquire polls SET NX with growing pauses until timeout.
func (r *Redis) Acquire(ctx context.Context, name string, timeout time.Duration) (*Token, error) {
	key := keyPrefix + name
	id := uuid.NewString()
	deadline := time.Now().Add(timeout)
	pause := defaultPollMin

	for {
		ok, err := r.client.SetNX(ctx, key, id, r.lease).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("lock: SET NX %s: %w", key, err)
		}
		if ok {
			break
		}

		left := time.Until(deadline)
		if left <= 0 {
			return nil, ErrTimeout
		}
		if pause > left {
			pause = left
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pause):
		}
		if pause *= 2; pause > defaultPollMax {
			pause = defaultPollMax
		}
	}

	tok := &Token{Name: name, ID: id, AcquiredAt: time.Now()}
	tok.release = func(ctx context.Context) error {
		n, err := unlockScript.Run(ctx, r.client, []string{key}, id).Int64()
		if err != nil {
			return fmt.Errorf("lock: release %s: %w", key, err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}
	return tok, nil
}

// Release deletes the key if t still owns it.
func (r *Redis) Release(ctx context.Context, t *Token) error {
	return release(ctx, t)
}
