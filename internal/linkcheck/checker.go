// Package linkcheck verifies outbound URLs by walking their redirect chains
// hop by hop and classifying the outcome.
package linkcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
	"github.com/JakeFAU/metafield-link-auditor/internal/metrics"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultUserAgent    = "metafield-link-auditor/1.0"
	DefaultMaxBodyBytes = 64 << 10
)

// Config controls verifier behavior.
type Config struct {
	Timeout         time.Duration
	FollowRedirects bool
	MaxRedirects    int
	Concurrency     int
	UserAgent       string
	// MaxBodyBytes bounds how much of each body is drained before closing.
	MaxBodyBytes int64
	// Transport overrides the HTTP transport. Nil uses a clone of http.DefaultTransport.
	Transport http.RoundTripper
}

// FromJob derives verifier settings from a job configuration.
func FromJob(cfg audit.JobConfig) Config {
	return Config{
		Timeout:         cfg.Timeout,
		FollowRedirects: cfg.FollowRedirects,
		MaxRedirects:    cfg.MaxRedirects,
		Concurrency:     cfg.Concurrency,
	}
}

// Checker implements audit.LinkVerifier. A single Checker shares one
// concurrency gate across all of its calls.
type Checker struct {
	cfg    Config
	client *http.Client
	gate   *semaphore.Weighted
	logger *zap.Logger
}

var _ audit.LinkVerifier = (*Checker)(nil)

// New builds a Checker. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = audit.DefaultTimeout
	}
	if cfg.MaxRedirects < 0 {
		cfg.MaxRedirects = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = audit.DefaultConcurrency
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		gate:   semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger: logger,
	}
}

// Check verifies a single URL. It never fails; every outcome is a result.
func (c *Checker) Check(ctx context.Context, rawURL string) audit.LinkCheckResult {
	start := time.Now()
	res := c.check(ctx, rawURL)
	metrics.ObserveLinkCheck(string(res.LinkStatus), time.Since(start))
	if res.IsBroken {
		c.logger.Debug("broken link",
			zap.String("url", rawURL),
			zap.String("link_status", string(res.LinkStatus)),
			zap.Int("http_status", res.HTTPStatus),
			zap.String("error", res.Error),
		)
	}
	return res
}

// CheckMany verifies urls concurrently, bounded by the shared gate.
// Results are returned in input order.
func (c *Checker) CheckMany(ctx context.Context, urls []string) []audit.LinkCheckResult {
	out := make([]audit.LinkCheckResult, len(urls))
	var g errgroup.Group
	for i, u := range urls {
		g.Go(func() error {
			out[i] = c.Check(ctx, u)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// hopState is the verifier's position in a redirect chain.
type hopState struct {
	url  *url.URL
	hops int
}

func (c *Checker) check(ctx context.Context, rawURL string) audit.LinkCheckResult {
	start, err := url.Parse(rawURL)
	if err != nil || start.Host == "" {
		if err == nil {
			err = errors.New("missing host")
		}
		return audit.LinkCheckResult{
			OriginalURL: rawURL,
			LinkStatus:  audit.LinkBrokenOther,
			IsBroken:    true,
			Error:       fmt.Sprintf("Invalid URL: %v", err),
		}
	}

	state := hopState{url: start}
	for {
		code, location, err := c.fetch(ctx, state.url.String())
		if err != nil {
			return classifyError(rawURL, state.url.String(), state.hops, err)
		}
		if !isRedirect(code) {
			return classifyStatus(rawURL, state.url.String(), code, state.hops)
		}

		if !c.cfg.FollowRedirects {
			return audit.LinkCheckResult{
				OriginalURL:   rawURL,
				FinalURL:      resolve(state.url, location),
				HTTPStatus:    code,
				RedirectCount: state.hops,
				WasRedirected: true,
				LinkStatus:    audit.LinkRedirectedOK,
			}
		}

		hops := state.hops + 1
		if hops > c.cfg.MaxRedirects {
			return audit.LinkCheckResult{
				OriginalURL:   rawURL,
				FinalURL:      state.url.String(),
				HTTPStatus:    code,
				RedirectCount: hops,
				WasRedirected: true,
				LinkStatus:    audit.LinkBrokenTooManyRedirects,
				IsBroken:      true,
				Error:         fmt.Sprintf("Too many redirects (%d)", hops),
			}
		}

		next, err := state.url.Parse(location)
		if location == "" || err != nil {
			return audit.LinkCheckResult{
				OriginalURL:   rawURL,
				FinalURL:      state.url.String(),
				HTTPStatus:    code,
				RedirectCount: hops,
				WasRedirected: true,
				LinkStatus:    audit.LinkBrokenOther,
				IsBroken:      true,
				Error:         "Redirect without usable Location header",
			}
		}
		state = hopState{url: next, hops: hops}
	}
}

// resolve returns location relative to base, or the raw header when it does not parse.
func resolve(base *url.URL, location string) string {
	if location == "" {
		return ""
	}
	u, err := base.Parse(location)
	if err != nil {
		return location
	}
	return u.String()
}

// fetch performs one GET under the gate and returns the status and Location.
func (c *Checker) fetch(ctx context.Context, target string) (int, string, error) {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return 0, "", err
	}
	defer c.gate.Release(1)

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target, nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
		_ = resp.Body.Close()
	}()
	return resp.StatusCode, resp.Header.Get("Location"), nil
}

func isRedirect(code int) bool {
	return code >= 300 && code < 400
}
