package app_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"broker_reviews/internal/app"
	"broker_reviews/internal/dedup"
	"broker_reviews/internal/domain"
	"broker_reviews/internal/filter"
	"broker_reviews/internal/moderation"
	"broker_reviews/internal/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ---- fakes ----

type fakeCaptcha struct {
	ok    bool
	err   error
	calls atomic.Int32
}

func (f *fakeCaptcha) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	f.calls.Add(1)
	return f.ok, f.err
}

type fakeCache struct {
	mu       sync.Mutex
	store    map[string][]byte
	counters map[string]int64
	sets     int
}

func newFakeCache() *fakeCache {
	return &fakeCache{store: map[string][]byte{}, counters: map[string]int64{}}
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = b
	c.sets++
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	return nil
}

func (c *fakeCache) Incr(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

func (c *fakeCache) SeedCounter(ctx context.Context, key string, v int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.counters[key]; !ok {
		c.counters[key] = v
	}
	return c.counters[key], nil
}

// evict drops a counter the way an LRU eviction would.
func (c *fakeCache) evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counters, key)
}

func (c *fakeCache) Counter(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[key], nil
}

type staticCatalog map[string]bool

func (s staticCatalog) Exists(ctx context.Context, id string) (bool, error) { return s[id], nil }

// ---- harness ----

type harness struct {
	store   *memory.Store
	cache   *fakeCache
	captcha *fakeCaptcha
	coord   *app.Coordinator
	submit  *app.SubmissionService
	mod     *app.ModerationService
	query   *app.QueryService
}

func newHarness(t *testing.T, policy moderation.Policy) *harness {
	t.Helper()
	h := &harness{
		store:   memory.New(),
		cache:   newFakeCache(),
		captcha: &fakeCaptcha{ok: true},
	}
	h.coord = app.NewCoordinator(h.store, h.cache, time.Minute)
	h.submit = app.NewSubmissionService(
		h.store, h.captcha, staticCatalog{"b1": true, "b2": true},
		filter.New(filter.Config{}), dedup.New(h.store), h.coord,
		app.SubmissionConfig{Policy: policy},
	)
	h.mod = app.NewModerationService(h.store, h.coord, nil)
	h.query = app.NewQueryService(h.store, h.cache, h.coord, time.Minute)
	return h
}

func candidate(broker, author string, rating int, body string) domain.ReviewCandidate {
	return domain.ReviewCandidate{
		BrokerID: broker, AuthorID: author, Rating: rating, Body: body, CaptchaToken: "tok",
	}
}

const (
	reviewA = "Fast withdrawals and tight spreads on the major pairs. Support answered my ticket within an hour and the platform never froze during the news releases. The fee schedule is clear and the mobile app is stable for daily trading. I have used this broker for two years and would recommend it to anyone starting out."
	// reviewA with one word changed
	reviewA2 = "Fast withdrawals and tight spreads on the major pairs. Support answered my ticket within an hour and the platform never froze during the news releases. The fee schedule is clear and the mobile app is reliable for daily trading. I have used this broker for two years and would recommend it to anyone starting out."
	reviewB  = "Terrible experience overall. My account was frozen for a week after a deposit, the chat bot kept looping and nobody from compliance replied to emails. Slippage on gold was huge and the spreads widened every evening."

	shortUnrelated = "Withdrawals took two weeks to arrive and support never replied."
)

// nearPairs are the same text with one word changed, long and short.
var nearPairs = []struct{ name, first, second string }{
	{"long", reviewA, reviewA2},
	{"sentence", "The spreads are tight and the platform is very stable overall.", "The spreads are tight and the platform is very reliable overall."},
	{"short", "Quick payouts and honest support staff.", "Quick payouts and friendly support staff."},
	{"four words", "Great broker, fast payouts.", "Great broker, slow payouts."},
}
