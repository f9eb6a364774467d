// internal/adapters/captcha/client.go
package captcha

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"broker_reviews/internal/adapters/observability"
	"broker_reviews/internal/domain"
)

// Client verifies challenge tokens against a siteverify endpoint
// (hCaptcha, Cloudflare Turnstile and reCAPTCHA share the same contract).
type Client struct {
	verifyURL string
	secret    string
	hc        *http.Client
	rl        *rate.Limiter
	attempts  int
	baseDelay time.Duration
}

type Options struct {
	RPS       int
	Attempts  int
	Timeout   time.Duration
	BaseDelay time.Duration
	HTTP      *http.Client
}

func New(verifyURL, secret string, o Options) (*Client, error) {
	if secret == "" {
		return nil, fmt.Errorf("captcha secret is required")
	}
	if _, err := url.ParseRequestURI(verifyURL); err != nil {
		return nil, fmt.Errorf("captcha verify url: %w", err)
	}
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Attempts <= 0 {
		o.Attempts = 2
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 200 * time.Millisecond
	}
	hc := o.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: o.Timeout}
	}
	return &Client{
		verifyURL: verifyURL,
		secret:    secret,
		hc:        hc,
		rl:        rate.NewLimiter(rate.Limit(o.RPS), o.RPS),
		attempts:  o.Attempts,
		baseDelay: o.BaseDelay,
	}, nil
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
}

// errRetryable marks failures worth another attempt.
var errRetryable = errors.New("retryable")

// Verify returns (false, nil) when the service rejects the token and an error
// wrapping domain.ErrCaptchaUnavailable when it could not give an answer.
func (c *Client) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}

	// client-side rate limiting
	if err := c.rl.Wait(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrCaptchaUnavailable, err)
	}

	var lastErr error
	for i := 0; i < c.attempts; i++ {
		ok, err := c.verifyOnce(ctx, token, remoteIP)
		if err == nil {
			return ok, nil
		}
		lastErr = err
		if !errors.Is(err, errRetryable) || ctx.Err() != nil {
			break
		}
		if i < c.attempts-1 && !sleepCtx(ctx, c.backoff(i)) {
			break
		}
	}
	if ctx.Err() != nil {
		lastErr = ctx.Err()
	}
	log.Warn().Err(lastErr).Int("attempts", c.attempts).Msg("captcha verification unavailable")
	return false, fmt.Errorf("%w: %v", domain.ErrCaptchaUnavailable, lastErr)
}

func (c *Client) verifyOnce(ctx context.Context, token, remoteIP string) (bool, error) {
	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	// build a fresh request each attempt
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "broker-reviews/1.0")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("captcha", "siteverify", 0, time.Since(start))
		// network error or context canceled
		return false, fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer resp.Body.Close()
	observability.ObserveExternal("captcha", "siteverify", resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusOK:
		var vr verifyResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&vr); err != nil {
			return false, fmt.Errorf("%w: decode: %v", errRetryable, err)
		}
		if !vr.Success {
			log.Debug().Strs("error_codes", vr.ErrorCodes).Msg("captcha token rejected")
		}
		return vr.Success, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		if wait := retryAfter(resp); wait > 0 && wait <= 2*time.Second {
			sleepCtx(ctx, wait)
		}
		return false, fmt.Errorf("%w: remote %d", errRetryable, resp.StatusCode)

	default:
		// read a small error body for diagnostics
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff doubles baseDelay per attempt with up to +50% jitter.
func (c *Client) backoff(i int) time.Duration {
	base := time.Duration(1<<i) * c.baseDelay
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
