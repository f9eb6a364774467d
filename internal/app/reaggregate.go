package app

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Reaggregate invalidates and rebuilds each broker's aggregate with at most
// workers in flight. It returns the number of brokers that failed.
func Reaggregate(ctx context.Context, coord *Coordinator, brokerIDs []string, workers int) int {
	if workers <= 0 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup
	var failed atomic.Int32

	for i, id := range brokerIDs {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			skipped := len(brokerIDs) - i
			log.Warn().Err(err).Int("skipped", skipped).Msg("reaggregate interrupted")
			failed.Add(int32(skipped))
			break
		}

		wg.Add(1)
		go func(brokerID string) {
			defer wg.Done()
			defer sem.Release(1)

			if err := coord.Invalidate(ctx, brokerID); err != nil {
				failed.Add(1)
				log.Warn().Str("broker_id", brokerID).Err(err).Msg("invalidate failed")
				return
			}
			agg, err := coord.Aggregate(ctx, brokerID)
			if err != nil {
				failed.Add(1)
				log.Warn().Str("broker_id", brokerID).Err(err).Msg("aggregate failed")
				return
			}
			log.Info().
				Str("broker_id", brokerID).
				Int64("approved_count", agg.ApprovedCount).
				Float64("average_rating", agg.AverageRating).
				Msg("aggregate rebuilt")
		}(id)
	}

	wg.Wait()
	return int(failed.Load())
}
