package redisad

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Locker hands out short-lived per-key locks shared by every API replica.
type Locker struct {
	lk    *redislock.Client
	ttl   time.Duration
	retry redislock.RetryStrategy
}

func NewLocker(c redis.UniversalClient, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Locker{
		lk:    redislock.New(c),
		ttl:   ttl,
		retry: redislock.LimitRetry(redislock.ExponentialBackoff(5*time.Millisecond, 200*time.Millisecond), 50),
	}
}

// Lock blocks until the key is obtained, the retry budget is spent or ctx ends.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := l.lk.Obtain(ctx, "lock:"+key, l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("could not obtain lock for %s", key)
	}
	if err != nil {
		return nil, err
	}
	return func() {
		// release with a fresh context: the request context may already be done
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			log.Warn().Err(err).Str("key", key).Msg("redis lock release failed")
		}
	}, nil
}
