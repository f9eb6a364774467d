package domain

import (
	"context"
	"time"
)

type ReviewRepository interface {
	// Write paths
	Create(ctx context.Context, r Review) (string, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) error

	// Read paths
	Get(ctx context.Context, id string) (Review, error)
	ListApproved(ctx context.Context, brokerID string, pg PageQuery) (ReviewsPage, error)
	ListByStatus(ctx context.Context, status Status, pg PageQuery) (ReviewsPage, error)
	RecentFingerprints(ctx context.Context, brokerID string, since time.Time) ([]FingerprintRecord, error)
	AggregateApproved(ctx context.Context, brokerID string) (count, sum int64, err error)
	CountApprovedByAuthor(ctx context.Context, authorID string) (int64, error)
	ListAudit(ctx context.Context, reviewID string) ([]AuditEntry, error)
}

// StatusUpdate is applied only while the stored status still equals From.
type StatusUpdate struct {
	ReviewID string
	From     Status
	To       Status
	Notes    string
	Actor    string
	At       time.Time
}

type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
	// Incr atomically bumps an integer counter, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
	// Counter reads an integer counter; absent counters read as 0.
	Counter(ctx context.Context, key string) (int64, error)
	// SeedCounter creates the counter at v unless it exists and returns its live value.
	SeedCounter(ctx context.Context, key string, v int64) (int64, error)
}

// Locker serializes work on one key across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// BrokerCatalog is the pre-check that a broker exists.
type BrokerCatalog interface {
	Exists(ctx context.Context, brokerID string) (bool, error)
}

type PageQuery struct {
	Limit  int
	Cursor *string
}

type ReviewsPage struct {
	Items      []Review
	NextCursor *string
}
