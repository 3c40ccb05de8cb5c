package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL    = 10 * time.Second
	defaultRetryDelay = 25 * time.Millisecond
	releaseTimeout    = 3 * time.Second
)

// releaseScript deletes the lock only if it still holds our token, so an
// expired lock re-acquired by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a distributed per-key mutex backed by SET NX PX.
type Locker struct {
	cache      *Cache
	ttl        time.Duration
	retryDelay time.Duration
}

// NewLocker creates a Locker. A zero ttl uses the default of 10s.
func NewLocker(c *Cache, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &Locker{
		cache:      c,
		ttl:        ttl,
		retryDelay: defaultRetryDelay,
	}
}

// Lock blocks until key is acquired or ctx is done. The returned function
// releases the lock; calls after the first do nothing.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.cache.Key("lock", key)
	token := uuid.NewString()

	for {
		ok, err := l.cache.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(ctx, l.cache.client, []string{redisKey}, token).Err(); err != nil {
				slog.Warn("failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}
