// Package mysql is the durable ReviewRepository.
package mysql

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"broker_reviews/internal/domain"
)

const errDuplicateEntry = 1062

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func valTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}

func valNonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// fail logs and wraps a driver error so callers see domain.ErrPersistence.
func fail(op string, err error) error {
	log.Error().Err(err).Str("op", op).Msg("mysql")
	return fmt.Errorf("%s: %w: %v", op, domain.ErrPersistence, err)
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

// Create inserts the review and its creation audit entry in one transaction.
func (r *Repo) Create(ctx context.Context, rv domain.Review) (string, error) {
	flags := rv.Flags
	if flags == nil {
		flags = []domain.FilterFlag{}
	}
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return "", fail("create: flags", err)
	}
	at := rv.CreatedAt.UTC().Truncate(time.Microsecond)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fail("create: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertReviewSQL,
		rv.ID,
		rv.BrokerID,
		rv.AuthorID,
		rv.Rating,
		rv.SanitizedBody,
		int64(rv.Fingerprint), // bit pattern kept; BIGINT is signed
		string(rv.Status),
		string(flagsJSON),
		rv.Severity,
		valStr(rv.DuplicateOfID),
		at,
	); err != nil {
		var me *mysqldrv.MySQLError
		if errors.As(err, &me) && me.Number == errDuplicateEntry {
			return "", fmt.Errorf("create: %w: duplicate id %s", domain.ErrPersistence, rv.ID)
		}
		return "", fail("create: insert review", err)
	}
	if _, err := tx.ExecContext(ctx, insertAuditSQL, rv.ID, nil, string(rv.Status), "system", nil, at); err != nil {
		return "", fail("create: insert audit", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fail("create: commit", err)
	}
	return rv.ID, nil
}

// UpdateStatus moves a review only while it is still in u.From.
func (r *Repo) UpdateStatus(ctx context.Context, u domain.StatusUpdate) error {
	at := u.At.UTC().Truncate(time.Microsecond)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fail("update status: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, updateStatusSQL, string(u.To), at, u.Notes, u.ReviewID, string(u.From))
	if err != nil {
		return fail("update status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fail("update status: rows", err)
	}
	if n == 0 {
		var cur string
		switch err := tx.QueryRowContext(ctx, currentStatusSQL, u.ReviewID).Scan(&cur); {
		case errors.Is(err, sql.ErrNoRows):
			return domain.ErrNotFound
		case err != nil:
			return fail("update status: current", err)
		}
		return &domain.ModerationConflictError{ReviewID: u.ReviewID, Current: domain.Status(cur)}
	}
	if _, err := tx.ExecContext(ctx, insertAuditSQL,
		u.ReviewID, string(u.From), string(u.To), u.Actor, valNonEmpty(u.Notes), at,
	); err != nil {
		return fail("update status: audit", err)
	}
	if err := tx.Commit(); err != nil {
		return fail("update status: commit", err)
	}
	return nil
}

type scanner interface{ Scan(dest ...any) error }

func scanReview(row scanner) (domain.Review, error) {
	var (
		rv          domain.Review
		fp          int64
		status      string
		flags       []byte
		dupOf       sql.NullString
		moderatedAt sql.NullTime
		notes       sql.NullString
	)
	if err := row.Scan(
		&rv.ID,
		&rv.BrokerID,
		&rv.AuthorID,
		&rv.Rating,
		&rv.SanitizedBody,
		&fp,
		&status,
		&flags,
		&rv.Severity,
		&dupOf,
		&rv.CreatedAt,
		&moderatedAt,
		&notes,
	); err != nil {
		return domain.Review{}, err
	}
	rv.Fingerprint = uint64(fp)
	rv.Status = domain.Status(status)
	if len(flags) > 0 {
		_ = json.Unmarshal(flags, &rv.Flags)
	}
	if dupOf.Valid {
		v := dupOf.String
		rv.DuplicateOfID = &v
	}
	if moderatedAt.Valid {
		t := moderatedAt.Time
		rv.ModeratedAt = &t
	}
	if notes.Valid {
		v := notes.String
		rv.AdminNotes = &v
	}
	return rv, nil
}

func (r *Repo) Get(ctx context.Context, id string) (domain.Review, error) {
	rv, err := scanReview(r.db.QueryRowContext(ctx, getReviewSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Review{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Review{}, fail("get review", err)
	}
	return rv, nil
}

func (r *Repo) ListApproved(ctx context.Context, brokerID string, pg domain.PageQuery) (domain.ReviewsPage, error) {
	return r.page(ctx, "list approved", listApprovedSQL, []any{brokerID}, pg)
}

func (r *Repo) ListByStatus(ctx context.Context, status domain.Status, pg domain.PageQuery) (domain.ReviewsPage, error) {
	return r.page(ctx, "list by status", listByStatusSQL, []any{string(status)}, pg)
}

func (r *Repo) page(ctx context.Context, op, base string, args []any, pg domain.PageQuery) (domain.ReviewsPage, error) {
	if pg.Limit <= 0 {
		pg.Limit = 20
	}
	var q strings.Builder
	q.WriteString(base)
	if pg.Cursor != nil && *pg.Cursor != "" {
		at, id, err := decodeCursor(*pg.Cursor)
		if err != nil {
			return domain.ReviewsPage{}, &domain.ValidationError{Field: "cursor", Reason: "malformed"}
		}
		q.WriteString(keysetAfterSQL)
		args = append(args, at, at, id)
	}
	q.WriteString(keysetOrderSQL)
	// one extra row tells us whether another page exists
	args = append(args, pg.Limit+1)

	rows, err := r.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return domain.ReviewsPage{}, fail(op, err)
	}
	defer rows.Close()

	out := make([]domain.Review, 0, pg.Limit)
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return domain.ReviewsPage{}, fail(op+": scan", err)
		}
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return domain.ReviewsPage{}, fail(op, err)
	}

	page := domain.ReviewsPage{Items: out}
	if len(out) > pg.Limit {
		page.Items = out[:pg.Limit]
		last := page.Items[pg.Limit-1]
		c := encodeCursor(last.CreatedAt, last.ID)
		page.NextCursor = &c
	}
	return page, nil
}

func (r *Repo) RecentFingerprints(ctx context.Context, brokerID string, since time.Time) ([]domain.FingerprintRecord, error) {
	rows, err := r.db.QueryContext(ctx, recentFingerprintsSQL, brokerID, since.UTC())
	if err != nil {
		return nil, fail("recent fingerprints", err)
	}
	defer rows.Close()

	var out []domain.FingerprintRecord
	for rows.Next() {
		var rec domain.FingerprintRecord
		var fp int64
		if err := rows.Scan(&rec.ReviewID, &rec.BrokerID, &fp, &rec.Body, &rec.CreatedAt); err != nil {
			return nil, fail("recent fingerprints: scan", err)
		}
		rec.Fingerprint = uint64(fp)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("recent fingerprints", err)
	}
	return out, nil
}

func (r *Repo) AggregateApproved(ctx context.Context, brokerID string) (int64, int64, error) {
	var n, sum int64
	if err := r.db.QueryRowContext(ctx, aggregateApprovedSQL, brokerID).Scan(&n, &sum); err != nil {
		return 0, 0, fail("aggregate approved", err)
	}
	return n, sum, nil
}

func (r *Repo) CountApprovedByAuthor(ctx context.Context, authorID string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, countApprovedByAuthorSQL, authorID).Scan(&n); err != nil {
		return 0, fail("count approved by author", err)
	}
	return n, nil
}

func (r *Repo) ListAudit(ctx context.Context, reviewID string) ([]domain.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, listAuditSQL, reviewID)
	if err != nil {
		return nil, fail("list audit", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var from, notes sql.NullString
		var to string
		if err := rows.Scan(&e.ReviewID, &from, &to, &e.Actor, &notes, &e.At); err != nil {
			return nil, fail("list audit: scan", err)
		}
		e.FromStatus = domain.Status(from.String)
		e.ToStatus = domain.Status(to)
		e.Notes = notes.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list audit", err)
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound
	}
	return out, nil
}

func encodeCursor(at time.Time, id string) string {
	raw := strconv.FormatInt(at.UTC().UnixMicro(), 10) + ":" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(c string) (time.Time, string, error) {
	b, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return time.Time{}, "", err
	}
	us, id, ok := strings.Cut(string(b), ":")
	if !ok || id == "" {
		return time.Time{}, "", errors.New("cursor: missing id")
	}
	n, err := strconv.ParseInt(us, 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}
	return time.UnixMicro(n).UTC(), id, nil
}
