package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"broker_reviews/internal/domain"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ReviewReader is the read side of the review store.
type ReviewReader interface {
	ListApproved(ctx context.Context, brokerID string, pg domain.PageQuery) (domain.ReviewsPage, error)
}

type QueryService struct {
	repo     ReviewReader
	cache    domain.Cache
	coord    *Coordinator
	cacheTTL time.Duration
}

func NewQueryService(r ReviewReader, c domain.Cache, coord *Coordinator, ttl time.Duration) *QueryService {
	return &QueryService{repo: r, cache: c, coord: coord, cacheTTL: ttl}
}

func normalizePage(pg domain.PageQuery) domain.PageQuery {
	if pg.Limit <= 0 {
		pg.Limit = DefaultPageLimit
	}
	if pg.Limit > MaxPageLimit {
		pg.Limit = MaxPageLimit
	}
	if pg.Cursor != nil && *pg.Cursor == "" {
		pg.Cursor = nil
	}
	return pg
}

// ListApproved returns one page of a broker's approved reviews, newest first.
func (s *QueryService) ListApproved(ctx context.Context, brokerID string, pg domain.PageQuery) (domain.ReviewsPage, error) {
	pg = normalizePage(pg)

	gen, gerr := s.coord.Generation(ctx, brokerID)
	cursor := ""
	if pg.Cursor != nil {
		cursor = *pg.Cursor
	}
	key := fmt.Sprintf("reviews:list:%s:%d:%d:%s", brokerID, gen, pg.Limit, cursor)

	var out domain.ReviewsPage
	if gerr == nil {
		if ok, _ := s.cache.Get(ctx, key, &out); ok {
			return out, nil
		}
	}

	rs, err := s.repo.ListApproved(ctx, brokerID, pg)
	if err != nil {
		return domain.ReviewsPage{}, persistence("list approved", err)
	}

	// copy slice to avoid aliasing the repo's backing array
	copyRS := deepCopyReviewsPage(rs)

	if gerr == nil {
		if b, _ := json.Marshal(copyRS); len(b) < 1_000_000 {
			_ = s.cache.Set(ctx, key, copyRS, int(s.cacheTTL.Seconds()))
		}
	}
	return copyRS, nil
}

// GetAggregate returns the broker's approved count and average rating.
func (s *QueryService) GetAggregate(ctx context.Context, brokerID string) (domain.BrokerReviewAggregate, error) {
	return s.coord.Aggregate(ctx, brokerID)
}

func deepCopyReviewsPage(in domain.ReviewsPage) domain.ReviewsPage {
	out := domain.ReviewsPage{NextCursor: in.NextCursor}
	if n := len(in.Items); n > 0 {
		out.Items = make([]domain.Review, n)
		copy(out.Items, in.Items)
	}
	return out
}
