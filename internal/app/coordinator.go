package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"broker_reviews/internal/adapters/observability"
	"broker_reviews/internal/domain"
)

// AggregateSource is the single store query an aggregate is rebuilt from.
type AggregateSource interface {
	AggregateApproved(ctx context.Context, brokerID string) (count, sum int64, err error)
}

// Coordinator keeps broker read caches consistent with the approved set.
//
// Every list page and aggregate is cached under a key that embeds the broker's
// generation counter. Invalidate bumps the counter, so all entries written for
// earlier generations become unreachable at once and simply age out.
// A missing counter, never written or evicted, is seeded from the clock so it
// cannot restart on a generation whose entries are still cached.
type Coordinator struct {
	src   AggregateSource
	cache domain.Cache
	ttl   time.Duration
	eager bool
	now   func() time.Time
	group singleflight.Group
}

type CoordinatorOption func(*Coordinator)

// WithEagerRefresh recomputes the aggregate right after each invalidation.
func WithEagerRefresh(on bool) CoordinatorOption { return func(c *Coordinator) { c.eager = on } }

func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(src AggregateSource, cache domain.Cache, ttl time.Duration, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{src: src, cache: cache, ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

func genKey(brokerID string) string { return fmt.Sprintf("reviews:gen:%s", brokerID) }

func aggregateKey(brokerID string, gen int64) string {
	return fmt.Sprintf("reviews:agg:%s:%d", brokerID, gen)
}

// Generation returns the broker's current cache generation.
func (c *Coordinator) Generation(ctx context.Context, brokerID string) (int64, error) {
	key := genKey(brokerID)
	n, err := c.cache.Counter(ctx, key)
	if err != nil || n != 0 {
		return n, err
	}
	return c.cache.SeedCounter(ctx, key, c.now().UnixNano())
}

// Invalidate must be called once after every committed write that changes
// approved-set membership for brokerID.
func (c *Coordinator) Invalidate(ctx context.Context, brokerID string) error {
	if _, err := c.Generation(ctx, brokerID); err != nil {
		return fmt.Errorf("invalidate %s: %w", brokerID, err)
	}
	gen, err := c.cache.Incr(ctx, genKey(brokerID))
	if err != nil {
		return fmt.Errorf("invalidate %s: %w", brokerID, err)
	}
	log.Debug().Str("broker_id", brokerID).Int64("generation", gen).Msg("broker caches invalidated")
	if c.eager {
		if _, err := c.load(ctx, brokerID, gen); err != nil {
			log.Warn().Err(err).Str("broker_id", brokerID).Msg("eager aggregate refresh failed")
		}
	}
	return nil
}

// Aggregate returns the broker's rating aggregate for the current generation,
// rebuilding it from the store on a miss.
func (c *Coordinator) Aggregate(ctx context.Context, brokerID string) (domain.BrokerReviewAggregate, error) {
	gen, err := c.Generation(ctx, brokerID)
	if err != nil {
		// Without a generation nothing can be cached safely; answer from the store.
		log.Warn().Err(err).Str("broker_id", brokerID).Msg("cache generation unavailable")
		return c.rebuild(ctx, brokerID)
	}
	var agg domain.BrokerReviewAggregate
	if ok, _ := c.cache.Get(ctx, aggregateKey(brokerID, gen), &agg); ok {
		return agg, nil
	}
	return c.load(ctx, brokerID, gen)
}

// load collapses concurrent rebuilds of one generation into a single store query.
func (c *Coordinator) load(ctx context.Context, brokerID string, gen int64) (domain.BrokerReviewAggregate, error) {
	key := aggregateKey(brokerID, gen)
	v, err, _ := c.group.Do(key, func() (any, error) {
		// Shared by every waiter, so it must not die with the first caller.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		agg, err := c.rebuild(rctx, brokerID)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(rctx, key, agg, int(c.ttl.Seconds())); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("aggregate cache set failed")
		}
		return agg, nil
	})
	if err != nil {
		return domain.BrokerReviewAggregate{}, err
	}
	return v.(domain.BrokerReviewAggregate), nil
}

func (c *Coordinator) rebuild(ctx context.Context, brokerID string) (domain.BrokerReviewAggregate, error) {
	n, sum, err := c.src.AggregateApproved(ctx, brokerID)
	if err != nil {
		return domain.BrokerReviewAggregate{}, persistence("aggregate approved", err)
	}
	observability.ObserveAggregateRebuild()
	return domain.NewAggregate(brokerID, n, sum, c.now().UTC()), nil
}
