// Package memory is a process-local ReviewRepository used for development and tests.
package memory

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"broker_reviews/internal/domain"
)

type Store struct {
	mu      sync.RWMutex
	reviews map[string]domain.Review
	audit   map[string][]domain.AuditEntry
	// order is insertion order; created_at ties break on it.
	order map[string]int64
	seq   int64
}

func New() *Store {
	return &Store{
		reviews: map[string]domain.Review{},
		audit:   map[string][]domain.AuditEntry{},
		order:   map[string]int64{},
	}
}

func (s *Store) Create(ctx context.Context, r domain.Review) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if r.ID == "" {
		return "", fmt.Errorf("%w: review id required", domain.ErrPersistence)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.reviews[r.ID]; dup {
		return "", fmt.Errorf("%w: duplicate id %s", domain.ErrPersistence, r.ID)
	}
	r.Flags = append([]domain.FilterFlag(nil), r.Flags...)
	s.reviews[r.ID] = r
	s.seq++
	s.order[r.ID] = s.seq
	s.audit[r.ID] = append(s.audit[r.ID], domain.AuditEntry{
		ReviewID: r.ID, ToStatus: r.Status, Actor: "system", At: r.CreatedAt,
	})
	return r.ID, nil
}

func (s *Store) UpdateStatus(ctx context.Context, u domain.StatusUpdate) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[u.ReviewID]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status != u.From {
		return &domain.ModerationConflictError{ReviewID: u.ReviewID, Current: r.Status}
	}
	at := u.At
	r.Status = u.To
	r.ModeratedAt = &at
	if u.Notes != "" {
		n := u.Notes
		r.AdminNotes = &n
	}
	s.reviews[r.ID] = r
	s.audit[r.ID] = append(s.audit[r.ID], domain.AuditEntry{
		ReviewID: r.ID, FromStatus: u.From, ToStatus: u.To, Actor: u.Actor, Notes: u.Notes, At: at,
	})
	return nil
}

func (s *Store) Get(_ context.Context, id string) (domain.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[id]
	if !ok {
		return domain.Review{}, domain.ErrNotFound
	}
	return clone(r), nil
}

func (s *Store) ListApproved(_ context.Context, brokerID string, pg domain.PageQuery) (domain.ReviewsPage, error) {
	return s.list(pg, func(r domain.Review) bool {
		return r.BrokerID == brokerID && r.Status == domain.StatusApproved
	})
}

func (s *Store) ListByStatus(_ context.Context, status domain.Status, pg domain.PageQuery) (domain.ReviewsPage, error) {
	return s.list(pg, func(r domain.Review) bool { return r.Status == status })
}

// list pages newest first on (created_at, insertion order).
func (s *Store) list(pg domain.PageQuery, keep func(domain.Review) bool) (domain.ReviewsPage, error) {
	if pg.Limit <= 0 {
		pg.Limit = 20
	}
	var after *pos
	if pg.Cursor != nil && *pg.Cursor != "" {
		p, err := decodeCursor(*pg.Cursor)
		if err != nil {
			return domain.ReviewsPage{}, &domain.ValidationError{Field: "cursor", Reason: "malformed"}
		}
		after = &p
	}

	s.mu.RLock()
	var rows []domain.Review
	for _, r := range s.reviews {
		if keep(r) {
			rows = append(rows, clone(r))
		}
	}
	order := make(map[string]int64, len(rows))
	for _, r := range rows {
		order[r.ID] = s.order[r.ID]
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		return pos{rows[i].CreatedAt, order[rows[i].ID]}.after(pos{rows[j].CreatedAt, order[rows[j].ID]})
	})

	out := make([]domain.Review, 0, pg.Limit)
	var next *string
	for _, r := range rows {
		p := pos{r.CreatedAt, order[r.ID]}
		if after != nil && !after.after(p) {
			continue
		}
		if len(out) == pg.Limit {
			c := encodeCursor(pos{out[len(out)-1].CreatedAt, order[out[len(out)-1].ID]})
			next = &c
			break
		}
		out = append(out, r)
	}
	return domain.ReviewsPage{Items: out, NextCursor: next}, nil
}

func (s *Store) RecentFingerprints(_ context.Context, brokerID string, since time.Time) ([]domain.FingerprintRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.FingerprintRecord
	for _, r := range s.reviews {
		if r.BrokerID != brokerID || r.CreatedAt.Before(since) {
			continue
		}
		out = append(out, domain.FingerprintRecord{
			ReviewID: r.ID, BrokerID: r.BrokerID, Fingerprint: r.Fingerprint,
			Body: r.SanitizedBody, CreatedAt: r.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return s.order[out[i].ReviewID] < s.order[out[j].ReviewID]
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) AggregateApproved(_ context.Context, brokerID string) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n, sum int64
	for _, r := range s.reviews {
		if r.BrokerID == brokerID && r.Status == domain.StatusApproved {
			n++
			sum += int64(r.Rating)
		}
	}
	return n, sum, nil
}

func (s *Store) CountApprovedByAuthor(_ context.Context, authorID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, r := range s.reviews {
		if r.AuthorID == authorID && r.Status == domain.StatusApproved {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListAudit(_ context.Context, reviewID string) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.reviews[reviewID]; !ok {
		return nil, domain.ErrNotFound
	}
	return append([]domain.AuditEntry(nil), s.audit[reviewID]...), nil
}

func clone(r domain.Review) domain.Review {
	r.Flags = append([]domain.FilterFlag(nil), r.Flags...)
	return r
}

type pos struct {
	at  time.Time
	seq int64
}

// after reports whether p sorts before q in newest-first order.
func (p pos) after(q pos) bool {
	if p.at.Equal(q.at) {
		return p.seq > q.seq
	}
	return p.at.After(q.at)
}

func encodeCursor(p pos) string {
	raw := strconv.FormatInt(p.at.UnixNano(), 10) + ":" + strconv.FormatInt(p.seq, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(c string) (pos, error) {
	b, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return pos{}, err
	}
	ns, seq, ok := strings.Cut(string(b), ":")
	if !ok {
		return pos{}, fmt.Errorf("cursor: missing separator")
	}
	n, err := strconv.ParseInt(ns, 10, 64)
	if err != nil {
		return pos{}, err
	}
	q, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return pos{}, err
	}
	return pos{at: time.Unix(0, n), seq: q}, nil
}
