package httpserver_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "broker_reviews/internal/adapters/http_server"
	"broker_reviews/internal/app"
	"broker_reviews/internal/domain"
)

// ---- fakes ----

type fakeSubmitter struct {
	got domain.ReviewCandidate
	res domain.SubmitResult
	err error
}

func (f *fakeSubmitter) Submit(ctx context.Context, c domain.ReviewCandidate) (domain.SubmitResult, error) {
	f.got = c
	return f.res, f.err
}

type fakeReader struct {
	page domain.ReviewsPage
	agg  domain.BrokerReviewAggregate
	pg   domain.PageQuery
	err  error
}

func (f *fakeReader) ListApproved(ctx context.Context, brokerID string, pg domain.PageQuery) (domain.ReviewsPage, error) {
	f.pg = pg
	return f.page, f.err
}

func (f *fakeReader) GetAggregate(ctx context.Context, brokerID string) (domain.BrokerReviewAggregate, error) {
	return f.agg, f.err
}

type fakeModerator struct {
	req app.ModerateRequest
	rev domain.Review
	err error
}

func (f *fakeModerator) Moderate(ctx context.Context, req app.ModerateRequest) (domain.Review, error) {
	f.req = req
	return f.rev, f.err
}

func (f *fakeModerator) Queue(ctx context.Context, status domain.Status, pg domain.PageQuery) (domain.ReviewsPage, error) {
	return domain.ReviewsPage{}, f.err
}

func (f *fakeModerator) Audit(ctx context.Context, id string) ([]domain.AuditEntry, error) {
	return []domain.AuditEntry{{ReviewID: id, ToStatus: domain.StatusApproved, Actor: "system"}}, f.err
}

func newTestServer(sub *fakeSubmitter, rd *fakeReader, mod *fakeModerator) http.Handler {
	s := httpserver.New()
	s.MountHandlers(&httpserver.Handlers{Submit: sub, Q: rd, Mod: mod, AdminToken: "secret"})
	return s.Mux()
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

// ---- tests ----

func TestSubmitReview_BuildsCandidate(t *testing.T) {
	sub := &fakeSubmitter{res: domain.SubmitResult{ReviewID: "r1", Status: domain.StatusApproved}}
	h := newTestServer(sub, &fakeReader{}, &fakeModerator{})

	rec := do(t, h, http.MethodPost, "/v1/brokers/b1/reviews",
		`{"rating":5,"body":"Great broker overall","captcha_token":"tok"}`,
		map[string]string{"X-Author-ID": "u1", "X-Real-IP": "203.0.113.7"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"review_id":"r1","status":"approved"}`, rec.Body.String())
	assert.Equal(t, domain.ReviewCandidate{
		BrokerID: "b1", AuthorID: "u1", Rating: 5, Body: "Great broker overall", CaptchaToken: "tok", RemoteIP: "203.0.113.7",
	}, sub.got)
}

func TestSubmitReview_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		check  func(t *testing.T, rec *httptest.ResponseRecorder, p map[string]any)
	}{
		{
			name: "validation", err: &domain.ValidationError{Field: "rating", Reason: "must be at most 5"}, status: http.StatusUnprocessableEntity,
			check: func(t *testing.T, _ *httptest.ResponseRecorder, p map[string]any) { assert.Equal(t, "rating", p["field"]) },
		},
		{name: "captcha rejected", err: domain.ErrCaptchaRejected, status: http.StatusForbidden},
		{
			name: "captcha unavailable", err: fmt.Errorf("%w: timeout", domain.ErrCaptchaUnavailable), status: http.StatusServiceUnavailable,
			check: func(t *testing.T, rec *httptest.ResponseRecorder, _ map[string]any) {
				assert.NotEmpty(t, rec.Header().Get("Retry-After"))
			},
		},
		{name: "persistence", err: fmt.Errorf("create: %w", domain.ErrPersistence), status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeSubmitter{err: tt.err}, &fakeReader{}, &fakeModerator{})
			rec := do(t, h, http.MethodPost, "/v1/brokers/b1/reviews", `{"rating":5,"body":"x","captcha_token":"t"}`, nil)
			require.Equal(t, tt.status, rec.Code)
			p := decodeProblem(t, rec)
			if tt.check != nil {
				tt.check(t, rec, p)
			}
		})
	}
}

func TestSubmitReview_MalformedJSON(t *testing.T) {
	h := newTestServer(&fakeSubmitter{}, &fakeReader{}, &fakeModerator{})
	rec := do(t, h, http.MethodPost, "/v1/brokers/b1/reviews", `{"rating":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/brokers/b1/reviews", `{"rating":5,"status":"approved"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are refused")
}

func TestListReviews_PublicViewAndETag(t *testing.T) {
	next := "abc"
	rd := &fakeReader{page: domain.ReviewsPage{
		Items: []domain.Review{{
			ID: "r1", BrokerID: "b1", AuthorID: "u1", Rating: 4, SanitizedBody: "fine",
			Status: domain.StatusApproved, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Flags: []domain.FilterFlag{{Kind: domain.FlagEmail, Count: 1}},
		}},
		NextCursor: &next,
	}}
	h := newTestServer(&fakeSubmitter{}, rd, &fakeModerator{})

	rec := do(t, h, http.MethodGet, "/v1/brokers/b1/reviews?limit=5&cursor=xyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[{"id":"r1","rating":4,"body":"fine","created_at":"2026-01-02T03:04:05Z"}],"next_cursor":"abc"}`, rec.Body.String())
	assert.Equal(t, 5, rd.pg.Limit)
	require.NotNil(t, rd.pg.Cursor)
	assert.Equal(t, "xyz", *rd.pg.Cursor)

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	rec = do(t, h, http.MethodGet, "/v1/brokers/b1/reviews?limit=5&cursor=xyz", "", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/brokers/b1/reviews?limit=0", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "limit", decodeProblem(t, rec)["field"])
}

func TestGetRating(t *testing.T) {
	rd := &fakeReader{agg: domain.NewAggregate("b1", 4, 14, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))}
	h := newTestServer(&fakeSubmitter{}, rd, &fakeModerator{})

	rec := do(t, h, http.MethodGet, "/v1/brokers/b1/rating", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"broker_id":"b1","approved_count":4,"average_rating":3.5,"last_updated":"2026-01-01T00:00:00Z"}`, rec.Body.String())
}

func TestAdmin_RequiresToken(t *testing.T) {
	h := newTestServer(&fakeSubmitter{}, &fakeReader{}, &fakeModerator{})
	for _, hdr := range []map[string]string{nil, {"Authorization": "Bearer wrong"}, {"Authorization": "secret"}} {
		rec := do(t, h, http.MethodGet, "/v1/admin/reviews", "", hdr)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/v1/admin/reviews?status=flagged", "", map[string]string{"Authorization": "Bearer secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())
}

func TestModerate_MapsConflict(t *testing.T) {
	mod := &fakeModerator{err: &domain.ModerationConflictError{ReviewID: "r1", Current: domain.StatusApproved}}
	h := newTestServer(&fakeSubmitter{}, &fakeReader{}, mod)

	rec := do(t, h, http.MethodPost, "/v1/admin/reviews/r1/moderation",
		`{"status":"rejected","notes":"spam","expected_status":"flagged"}`,
		map[string]string{"Authorization": "Bearer secret", "X-Moderator-ID": "mod-7"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "approved", decodeProblem(t, rec)["current_status"])
	assert.Equal(t, app.ModerateRequest{
		ReviewID: "r1", NewStatus: domain.StatusRejected, Notes: "spam", ExpectedStatus: domain.StatusFlagged, Moderator: "mod-7",
	}, mod.req)
}

func TestModerate_OKAndAudit(t *testing.T) {
	mod := &fakeModerator{rev: domain.Review{ID: "r1", Status: domain.StatusApproved}}
	h := newTestServer(&fakeSubmitter{}, &fakeReader{}, mod)
	auth := map[string]string{"Authorization": "Bearer secret"}

	rec := do(t, h, http.MethodPost, "/v1/admin/reviews/r1/moderation", `{"status":"approved","expected_status":"flagged"}`, auth)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/admin/reviews/r1/audit", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"actor":"system"`)

	mod.err = domain.ErrNotFound
	rec = do(t, h, http.MethodGet, "/v1/admin/reviews/r1/audit", "", auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestModerate_RequiresExpectedStatus(t *testing.T) {
	mod := &fakeModerator{rev: domain.Review{ID: "r1", Status: domain.StatusApproved}}
	h := newTestServer(&fakeSubmitter{}, &fakeReader{}, mod)

	rec := do(t, h, http.MethodPost, "/v1/admin/reviews/r1/moderation", `{"status":"approved","notes":"ok"}`,
		map[string]string{"Authorization": "Bearer secret"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "expected_status", decodeProblem(t, rec)["field"])
	assert.Empty(t, mod.req.ReviewID, "service must not be called")
}

func TestHealthz(t *testing.T) {
	h := newTestServer(&fakeSubmitter{}, &fakeReader{}, &fakeModerator{})
	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
