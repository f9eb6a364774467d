package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"broker_reviews/internal/adapters/observability"
	"broker_reviews/internal/dedup"
	"broker_reviews/internal/domain"
	"broker_reviews/internal/filter"
	"broker_reviews/internal/fingerprint"
	"broker_reviews/internal/moderation"
)

// SubmissionConfig tunes duplicate detection and the review policy.
type SubmissionConfig struct {
	Window time.Duration
	Policy moderation.Policy
	// Locker, when set, additionally serializes each broker across replicas.
	Locker domain.Locker
	Clock  func() time.Time
}

type SubmissionService struct {
	repo    domain.ReviewRepository
	captcha domain.CaptchaVerifier
	catalog domain.BrokerCatalog
	filter  *filter.Filter
	dedup   *dedup.Detector
	coord   *Coordinator

	validate *validator.Validate
	local    *keyedMutex
	remote   domain.Locker
	window   time.Duration
	policy   moderation.Policy
	now      func() time.Time
}

func NewSubmissionService(
	r domain.ReviewRepository,
	cv domain.CaptchaVerifier,
	catalog domain.BrokerCatalog,
	f *filter.Filter,
	d *dedup.Detector,
	coord *Coordinator,
	cfg SubmissionConfig,
) *SubmissionService {
	if cfg.Window <= 0 {
		cfg.Window = dedup.DefaultWindow
	}
	if cfg.Policy == "" {
		cfg.Policy = moderation.PolicyAuto
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &SubmissionService{
		repo: r, captcha: cv, catalog: catalog, filter: f, dedup: d, coord: coord,
		validate: newValidator(),
		local:    newKeyedMutex(),
		remote:   cfg.Locker,
		window:   cfg.Window,
		policy:   cfg.Policy,
		now:      cfg.Clock,
	}
}

// Submit runs one candidate through verification, filtering, duplicate
// detection and the state machine, and persists the result.
// Nothing is written unless every step before the final insert succeeded.
func (s *SubmissionService) Submit(ctx context.Context, c domain.ReviewCandidate) (domain.SubmitResult, error) {
	res, err := s.submit(ctx, c)
	if err != nil {
		observability.ObserveSubmission(outcome(err))
		return domain.SubmitResult{}, err
	}
	observability.ObserveSubmission(string(res.Status))
	return res, nil
}

func (s *SubmissionService) submit(ctx context.Context, c domain.ReviewCandidate) (domain.SubmitResult, error) {
	c.BrokerID = strings.TrimSpace(c.BrokerID)
	c.AuthorID = strings.TrimSpace(c.AuthorID)
	c.Body = strings.TrimSpace(c.Body)
	if err := s.validate.Struct(c); err != nil {
		return domain.SubmitResult{}, mapValidation(err)
	}
	if s.catalog != nil {
		ok, err := s.catalog.Exists(ctx, c.BrokerID)
		if err != nil {
			return domain.SubmitResult{}, persistence("broker catalog", err)
		}
		if !ok {
			return domain.SubmitResult{}, &domain.ValidationError{Field: "broker_id", Reason: "unknown broker"}
		}
	}

	human, err := s.captcha.Verify(ctx, c.CaptchaToken, c.RemoteIP)
	if err != nil {
		if !errors.Is(err, domain.ErrCaptchaUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrCaptchaUnavailable, err)
		}
		return domain.SubmitResult{}, err
	}
	if !human {
		return domain.SubmitResult{}, domain.ErrCaptchaRejected
	}

	clean, flags := s.filter.Sanitize(c.Body)
	rev := domain.Review{
		BrokerID:      c.BrokerID,
		AuthorID:      c.AuthorID,
		Rating:        c.Rating,
		SanitizedBody: clean,
		Fingerprint:   fingerprint.Fingerprint(clean),
		Flags:         flags,
		Severity:      filter.Severity(flags),
	}

	rev, err = s.decideAndStore(ctx, rev, s.filter.Exceeds(flags))
	if err != nil {
		return domain.SubmitResult{}, err
	}

	if rev.Status == domain.StatusApproved {
		if err := s.coord.Invalidate(ctx, rev.BrokerID); err != nil {
			// The review is committed; stale reads age out with the cache TTL.
			log.Error().Err(err).Str("broker_id", rev.BrokerID).Str("review_id", rev.ID).Msg("cache invalidation failed")
		}
	}
	return domain.SubmitResult{ReviewID: rev.ID, Status: rev.Status}, nil
}

// decideAndStore holds the broker lock across duplicate lookup, decision and insert.
func (s *SubmissionService) decideAndStore(ctx context.Context, rev domain.Review, profane bool) (domain.Review, error) {
	unlock, err := s.lock(ctx, rev.BrokerID)
	if err != nil {
		return domain.Review{}, err
	}
	defer unlock()

	sig := moderation.Signals{ProfanityExceeded: profane}
	match, found, err := s.dedup.FindNearDuplicate(ctx, rev.BrokerID, rev.SanitizedBody, rev.Fingerprint, s.window)
	if err != nil {
		return domain.Review{}, persistence("duplicate lookup", err)
	}
	if found {
		sig.DuplicateOf = match.Review.ID
		rev.DuplicateOfID = ptr(match.Review.ID)
		rev.Flags = append(rev.Flags, duplicateFlag(match.Distance))
		observability.ObserveDuplicate(match.Distance)
	}
	if s.policy == moderation.PolicyNewAuthors {
		n, err := s.repo.CountApprovedByAuthor(ctx, rev.AuthorID)
		if err != nil {
			return domain.Review{}, persistence("count approved by author", err)
		}
		sig.FirstApproval = n == 0
	}
	dec := moderation.Decide(s.policy, sig)
	rev.Status = dec.Status

	if err := ctx.Err(); err != nil {
		return domain.Review{}, err
	}
	rev.ID = uuid.NewString()
	rev.CreatedAt = s.now().UTC()
	id, err := s.repo.Create(ctx, rev)
	if err != nil {
		log.Error().Err(err).Str("broker_id", rev.BrokerID).Msg("review insert failed")
		return domain.Review{}, persistence("create review", err)
	}
	rev.ID = id
	s.dedup.Record(domain.FingerprintRecord{
		ReviewID: rev.ID, BrokerID: rev.BrokerID, Fingerprint: rev.Fingerprint,
		Body: rev.SanitizedBody, CreatedAt: rev.CreatedAt,
	})

	ev := log.Info().
		Str("broker_id", rev.BrokerID).
		Str("review_id", rev.ID).
		Str("status", string(rev.Status)).
		Str("reason", dec.Reason).
		Int("severity", rev.Severity)
	if found {
		ev = ev.Str("duplicate_of", match.Review.ID).Int("distance", match.Distance).Float64("similarity", match.Similarity)
	}
	ev.Msg("review submitted")
	return rev, nil
}

func (s *SubmissionService) lock(ctx context.Context, brokerID string) (func(), error) {
	unlockLocal, err := s.local.Lock(ctx, brokerID)
	if err != nil {
		return nil, err
	}
	if s.remote == nil {
		return unlockLocal, nil
	}
	unlockRemote, err := s.remote.Lock(ctx, "broker:"+brokerID)
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("broker lock: %w: %v", domain.ErrPersistence, err)
	}
	return func() {
		unlockRemote()
		unlockLocal()
	}, nil
}

func outcome(err error) string {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return "invalid"
	case errors.Is(err, domain.ErrCaptchaRejected):
		return "captcha_rejected"
	case errors.Is(err, domain.ErrCaptchaUnavailable):
		return "captcha_unavailable"
	}
	return "error"
}

// ModerateRequest is one admin action on a review.
type ModerateRequest struct {
	ReviewID  string
	NewStatus domain.Status
	Notes     string
	// ExpectedStatus is the status the admin saw; empty skips the check.
	ExpectedStatus domain.Status
	Moderator      string
}

type ModerationService struct {
	repo  domain.ReviewRepository
	coord *Coordinator
	now   func() time.Time
}

func NewModerationService(r domain.ReviewRepository, coord *Coordinator, now func() time.Time) *ModerationService {
	if now == nil {
		now = time.Now
	}
	return &ModerationService{repo: r, coord: coord, now: now}
}

// Moderate applies an admin transition. Repeating the current status is a
// successful no-op; a status that moved since the admin loaded it is a conflict.
func (s *ModerationService) Moderate(ctx context.Context, req ModerateRequest) (domain.Review, error) {
	if !req.NewStatus.Valid() {
		return domain.Review{}, &domain.ValidationError{Field: "status", Reason: "unknown status"}
	}
	if req.ExpectedStatus != "" && !req.ExpectedStatus.Valid() {
		return domain.Review{}, &domain.ValidationError{Field: "expected_status", Reason: "unknown status"}
	}
	if req.Moderator == "" {
		req.Moderator = "admin"
	}

	cur, err := s.repo.Get(ctx, req.ReviewID)
	if err != nil {
		return domain.Review{}, persistence("get review", err)
	}
	from := cur.Status

	if from == req.NewStatus {
		observability.ObserveModeration(string(from), string(req.NewStatus), "noop")
		return cur, nil
	}
	if req.ExpectedStatus != "" && from != req.ExpectedStatus {
		observability.ObserveModeration(string(from), string(req.NewStatus), "conflict")
		return domain.Review{}, &domain.ModerationConflictError{ReviewID: cur.ID, Current: from}
	}
	if err := moderation.Check(from, req.NewStatus, moderation.Admin); err != nil {
		observability.ObserveModeration(string(from), string(req.NewStatus), "invalid")
		return domain.Review{}, err
	}

	err = s.repo.UpdateStatus(ctx, domain.StatusUpdate{
		ReviewID: cur.ID,
		From:     from,
		To:       req.NewStatus,
		Notes:    req.Notes,
		Actor:    req.Moderator,
		At:       s.now().UTC(),
	})
	if err != nil {
		var conflict *domain.ModerationConflictError
		if errors.As(err, &conflict) {
			observability.ObserveModeration(string(from), string(req.NewStatus), "conflict")
			return domain.Review{}, err
		}
		return domain.Review{}, persistence("update status", err)
	}
	observability.ObserveModeration(string(from), string(req.NewStatus), "ok")
	log.Info().
		Str("review_id", cur.ID).
		Str("broker_id", cur.BrokerID).
		Str("from", string(from)).
		Str("to", string(req.NewStatus)).
		Str("moderator", req.Moderator).
		Msg("review moderated")

	if moderation.AffectsVisibility(from, req.NewStatus) {
		if err := s.coord.Invalidate(ctx, cur.BrokerID); err != nil {
			log.Error().Err(err).Str("broker_id", cur.BrokerID).Str("review_id", cur.ID).Msg("cache invalidation failed")
		}
	}

	out, err := s.repo.Get(ctx, cur.ID)
	if err != nil {
		return domain.Review{}, persistence("reload review", err)
	}
	return out, nil
}

// Queue lists reviews in one status for the admin console.
func (s *ModerationService) Queue(ctx context.Context, status domain.Status, pg domain.PageQuery) (domain.ReviewsPage, error) {
	if !status.Valid() {
		return domain.ReviewsPage{}, &domain.ValidationError{Field: "status", Reason: "unknown status"}
	}
	page, err := s.repo.ListByStatus(ctx, status, normalizePage(pg))
	if err != nil {
		return domain.ReviewsPage{}, persistence("list by status", err)
	}
	return page, nil
}

func (s *ModerationService) Audit(ctx context.Context, reviewID string) ([]domain.AuditEntry, error) {
	entries, err := s.repo.ListAudit(ctx, reviewID)
	if err != nil {
		return nil, persistence("list audit", err)
	}
	return entries, nil
}
