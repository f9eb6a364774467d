package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"broker_reviews/internal/app"
	"broker_reviews/internal/domain"
)

const maxBodyBytes = 16 << 10

type Submitter interface {
	Submit(ctx context.Context, c domain.ReviewCandidate) (domain.SubmitResult, error)
}

type Reader interface {
	ListApproved(ctx context.Context, brokerID string, pg domain.PageQuery) (domain.ReviewsPage, error)
	GetAggregate(ctx context.Context, brokerID string) (domain.BrokerReviewAggregate, error)
}

type Moderator interface {
	Moderate(ctx context.Context, req app.ModerateRequest) (domain.Review, error)
	Queue(ctx context.Context, status domain.Status, pg domain.PageQuery) (domain.ReviewsPage, error)
	Audit(ctx context.Context, reviewID string) ([]domain.AuditEntry, error)
}

type Handlers struct {
	Submit     Submitter
	Q          Reader
	Mod        Moderator
	AdminToken string
	// Ready reports backend health for /healthz; nil means always healthy.
	Ready func(ctx context.Context) error
}

type problem struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Field         string `json:"field,omitempty"`
	CurrentStatus string `json:"current_status,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", h.healthz)

	s.mux.Route("/v1/brokers/{brokerID}", func(r chi.Router) {
		r.Post("/reviews", h.submitReview)
		r.Get("/reviews", h.listReviews)
		r.Get("/rating", h.getRating)
	})

	s.mux.Route("/v1/admin", func(r chi.Router) {
		r.Use(AdminAuth(h.AdminToken))
		r.Get("/reviews", h.queue)
		r.Post("/reviews/{id}/moderation", h.moderate)
		r.Get("/reviews/{id}/audit", h.audit)
	})
}

func writeProblem(w http.ResponseWriter, status int, p problem) {
	p.Type, p.Status = "about:blank", status
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeError keeps rejected input and temporary unavailability apart.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	var conflict *domain.ModerationConflictError
	switch {
	case errors.As(err, &ve):
		writeProblem(w, http.StatusUnprocessableEntity, problem{Title: "Invalid input", Detail: ve.Error(), Field: ve.Field})
	case errors.As(err, &conflict):
		writeProblem(w, http.StatusConflict, problem{
			Title: "Moderation conflict", Detail: "review changed since it was loaded", CurrentStatus: string(conflict.Current),
		})
	case errors.Is(err, domain.ErrCaptchaRejected):
		writeProblem(w, http.StatusForbidden, problem{Title: "Captcha rejected", Detail: "captcha verification failed"})
	case errors.Is(err, domain.ErrCaptchaUnavailable):
		w.Header().Set("Retry-After", "5")
		writeProblem(w, http.StatusServiceUnavailable, problem{Title: "Captcha unavailable", Detail: "verification service unavailable, try again"})
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, problem{Title: "Not Found"})
	case errors.Is(err, domain.ErrInvalidTransition):
		writeProblem(w, http.StatusUnprocessableEntity, problem{Title: "Invalid transition", Detail: err.Error(), Field: "status"})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeProblem(w, http.StatusServiceUnavailable, problem{Title: "Timeout", Detail: "try again"})
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		w.Header().Set("Retry-After", "1")
		writeProblem(w, http.StatusServiceUnavailable, problem{Title: "Service unavailable", Detail: "try again"})
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any, withETag bool) {
	etag, body := calcETagAndBody(v)
	if withETag && etag != "" {
		// If client already has this version, short-circuit.
		if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
			w.Header().Set("ETag", etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("failed to write body")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, problem{Title: "Invalid JSON", Detail: err.Error()})
		return false
	}
	return true
}

func pageQuery(r *http.Request) (domain.PageQuery, error) {
	pg := domain.PageQuery{Limit: app.DefaultPageLimit}
	if ls := r.URL.Query().Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > app.MaxPageLimit {
			return pg, &domain.ValidationError{Field: "limit", Reason: "must be an integer between 1 and " + strconv.Itoa(app.MaxPageLimit)}
		}
		pg.Limit = l
	}
	if c := r.URL.Query().Get("cursor"); c != "" {
		pg.Cursor = &c
	}
	return pg, nil
}

func (h *Handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ready(ctx); err != nil {
			log.Warn().Err(err).Msg("health check failed")
			writeProblem(w, http.StatusServiceUnavailable, problem{Title: "Unhealthy"})
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type submitRequest struct {
	Rating       int    `json:"rating"`
	Body         string `json:"body"`
	CaptchaToken string `json:"captcha_token"`
}

func (h *Handlers) submitReview(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// Built once; the orchestrator gets its own copy.
	c := domain.ReviewCandidate{
		BrokerID:     chi.URLParam(r, "brokerID"),
		AuthorID:     strings.TrimSpace(r.Header.Get("X-Author-ID")),
		Rating:       req.Rating,
		Body:         req.Body,
		CaptchaToken: req.CaptchaToken,
		RemoteIP:     remoteIP(r),
	}
	res, err := h.Submit.Submit(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, res, false)
}

type publicReview struct {
	ID        string    `json:"id"`
	Rating    int       `json:"rating"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type reviewsResponse struct {
	Items      []publicReview `json:"items"`
	NextCursor *string        `json:"next_cursor,omitempty"`
}

func (h *Handlers) listReviews(w http.ResponseWriter, r *http.Request) {
	pg, err := pageQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.Q.ListApproved(r.Context(), chi.URLParam(r, "brokerID"), pg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := reviewsResponse{Items: make([]publicReview, 0, len(out.Items)), NextCursor: out.NextCursor}
	for _, rv := range out.Items {
		resp.Items = append(resp.Items, publicReview{ID: rv.ID, Rating: rv.Rating, Body: rv.SanitizedBody, CreatedAt: rv.CreatedAt})
	}
	writeJSON(w, r, http.StatusOK, resp, true)
}

type ratingResponse struct {
	BrokerID      string    `json:"broker_id"`
	ApprovedCount int64     `json:"approved_count"`
	AverageRating float64   `json:"average_rating"`
	LastUpdated   time.Time `json:"last_updated"`
}

func (h *Handlers) getRating(w http.ResponseWriter, r *http.Request) {
	agg, err := h.Q.GetAggregate(r.Context(), chi.URLParam(r, "brokerID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ratingResponse{
		BrokerID: agg.BrokerID, ApprovedCount: agg.ApprovedCount, AverageRating: agg.AverageRating, LastUpdated: agg.LastUpdated,
	}, false)
}

type moderateRequest struct {
	Status         domain.Status `json:"status"`
	Notes          string        `json:"notes"`
	ExpectedStatus domain.Status `json:"expected_status"`
}

func (h *Handlers) moderate(w http.ResponseWriter, r *http.Request) {
	var req moderateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// Admin clients must say what they saw so a decision on a stale view is a 409.
	if req.ExpectedStatus == "" {
		writeError(w, r, &domain.ValidationError{Field: "expected_status", Reason: "is required"})
		return
	}
	moderator := strings.TrimSpace(r.Header.Get("X-Moderator-ID"))
	rev, err := h.Mod.Moderate(r.Context(), app.ModerateRequest{
		ReviewID:       chi.URLParam(r, "id"),
		NewStatus:      req.Status,
		Notes:          req.Notes,
		ExpectedStatus: req.ExpectedStatus,
		Moderator:      moderator,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rev, false)
}

type queueResponse struct {
	Items      []domain.Review `json:"items"`
	NextCursor *string         `json:"next_cursor,omitempty"`
}

func (h *Handlers) queue(w http.ResponseWriter, r *http.Request) {
	pg, err := pageQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := domain.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.StatusFlagged
	}
	out, err := h.Mod.Queue(r.Context(), status, pg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := out.Items
	if items == nil {
		items = []domain.Review{}
	}
	writeJSON(w, r, http.StatusOK, queueResponse{Items: items, NextCursor: out.NextCursor}, false)
}

func (h *Handlers) audit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Mod.Audit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entries, false)
}
