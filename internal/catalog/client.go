// Package catalog is a client for a Shopify-style REST Admin API. Every call
// carries its own retry, backoff and throttle handling.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
	"github.com/JakeFAU/metafield-link-auditor/internal/metrics"
	"github.com/JakeFAU/metafield-link-auditor/internal/policy/ratelimit"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultMaxRetries        = 5
	DefaultBaseBackoff       = time.Second
	DefaultMaxBackoff        = 60 * time.Second
	DefaultRetryAfter        = 2 * time.Second
	DefaultThrottleThreshold = 0.8
	DefaultThrottlePause     = 500 * time.Millisecond
	DefaultRequestTimeout    = 30 * time.Second

	// NoRetries disables retries when set as Config.MaxRetries.
	NoRetries = -1

	maxResponseBytes = 16 << 20
	tokenHeader      = "X-Shopify-Access-Token"
	callLimitHeader  = "X-Shopify-Shop-Api-Call-Limit"
)

// Config describes how to reach a shop.
type Config struct {
	Shop       string
	Token      string
	APIVersion string
	// BaseURL overrides the https://<shop> origin, mainly for tests.
	BaseURL string

	// MaxRetries is zero for DefaultMaxRetries and NoRetries for a single attempt.
	MaxRetries        int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	RetryAfterDefault time.Duration
	ThrottleThreshold float64
	ThrottlePause     time.Duration
	RequestTimeout    time.Duration
	UserAgent         string

	Transport http.RoundTripper
}

// FromJob fills shop credentials from a job config on top of base.
func FromJob(base Config, job audit.JobConfig) Config {
	base.Shop = job.Shop
	base.Token = job.Token
	base.APIVersion = job.APIVersion
	return base
}

// Client talks to the catalog API.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	limiter *ratelimit.Limiter
	backoff Backoff
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

var _ audit.Catalog = (*Client)(nil)

// New builds a Client. limiter may be nil to disable client-side pacing.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) (*Client, error) {
	shop := NormalizeShop(cfg.Shop)
	if shop == "" && cfg.BaseURL == "" {
		return nil, errors.New("catalog: shop is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("catalog: access token is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = audit.DefaultAPIVersion
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = DefaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.RetryAfterDefault <= 0 {
		cfg.RetryAfterDefault = DefaultRetryAfter
	}
	if cfg.ThrottleThreshold <= 0 || cfg.ThrottleThreshold > 1 {
		cfg.ThrottleThreshold = DefaultThrottleThreshold
	}
	if cfg.ThrottlePause <= 0 {
		cfg.ThrottlePause = DefaultThrottlePause
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	origin := strings.TrimRight(cfg.BaseURL, "/")
	if origin == "" {
		origin = "https://" + shop
	}
	return &Client{
		cfg:     cfg,
		baseURL: fmt.Sprintf("%s/admin/api/%s", origin, cfg.APIVersion),
		http: &http.Client{
			Transport: cfg.Transport,
			Timeout:   cfg.RequestTimeout,
		},
		limiter: limiter,
		backoff: Backoff{Base: cfg.BaseBackoff, Max: cfg.MaxBackoff},
		logger:  logger.With(zap.String("shop", shop)),
		sleep:   sleepCtx,
	}, nil
}

// NormalizeShop strips any scheme, path and trailing slash from a shop domain.
func NormalizeShop(shop string) string {
	s := strings.TrimSpace(strings.ToLower(shop))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

// do runs one logical call, retrying as policy allows. When out is non-nil the
// 2xx body is decoded into it. The final response headers are returned.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, out any) (http.Header, error) {
	target := c.baseURL + "/" + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("catalog %s: encode body: %w", op, err)
		}
	}

	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, target); err != nil {
				return nil, err
			}
		}

		status, header, respBody, err := c.roundTrip(ctx, method, target, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("catalog %s: %w", op, ctx.Err())
			}
			if attempt >= c.cfg.MaxRetries {
				return nil, &APIError{Op: op, Attempts: attempt + 1, Err: err}
			}
			delay := c.backoff.Delay(attempt)
			metrics.ObserveCatalogRetry("transport")
			c.logger.Warn("catalog request error, retrying",
				zap.String("op", op), zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay), zap.Error(err))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("catalog %s: %w", op, err)
			}
			continue
		}

		metrics.ObserveCatalogRequest(op, status)
		if err := c.throttle(ctx, header); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", op, err)
		}

		switch {
		case status == http.StatusTooManyRequests:
			if attempt >= c.cfg.MaxRetries {
				return nil, &APIError{Op: op, StatusCode: status, Body: "rate limited", Attempts: attempt + 1}
			}
			delay := retryAfter(header, c.cfg.RetryAfterDefault)
			if c.limiter != nil {
				c.limiter.Penalize(target, delay)
			}
			metrics.ObserveCatalogRetry("rate_limited")
			c.logger.Warn("catalog rate limited, retrying",
				zap.String("op", op), zap.Int("attempt", attempt+1), zap.Duration("retry_after", delay))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("catalog %s: %w", op, err)
			}
			continue

		case status >= 500:
			if attempt >= c.cfg.MaxRetries {
				return nil, &APIError{Op: op, StatusCode: status, Body: truncate(respBody), Attempts: attempt + 1}
			}
			delay := c.backoff.Delay(attempt)
			metrics.ObserveCatalogRetry("server_error")
			c.logger.Warn("catalog server error, retrying",
				zap.String("op", op), zap.Int("status", status),
				zap.Int("attempt", attempt+1), zap.Duration("delay", delay))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("catalog %s: %w", op, err)
			}
			continue

		case status < 200 || status >= 300:
			return nil, &APIError{Op: op, StatusCode: status, Body: truncate(respBody), Attempts: attempt + 1}
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return nil, fmt.Errorf("catalog %s: decode response: %w", op, err)
			}
		}
		return header, nil
	}
}

func (c *Client) roundTrip(ctx context.Context, method, target string, payload []byte) (int, http.Header, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set(tokenHeader, c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, resp.Header, data, nil
}

// throttle pauses briefly when the call-limit bucket is close to full.
func (c *Client) throttle(ctx context.Context, h http.Header) error {
	raw := h.Get(callLimitHeader)
	if raw == "" {
		return nil
	}
	used, bucket := callLimit(raw)
	if !shouldThrottle(used, bucket, c.cfg.ThrottleThreshold) {
		return nil
	}
	metrics.ObserveThrottlePause()
	c.logger.Info("catalog call limit near capacity, throttling",
		zap.Int("used", used), zap.Int("bucket", bucket), zap.Duration("pause", c.cfg.ThrottlePause))
	return c.sleep(ctx, c.cfg.ThrottlePause)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
