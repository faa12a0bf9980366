package linkcheck

import (
	"context"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
)

// newTestServer serves:
//
//	/ok            200
//	/missing       404
//	/gone          410
//	/unavailable   503
//	/weird         999
//	/slow          blocks until the client gives up
//	/hop/{n}       302 to hop/{n-1} (relative), hop/0 is 200
//	/nolocation    302 without a Location header
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("fine"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	mux.HandleFunc("/unavailable", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/weird", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(999)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	mux.HandleFunc("/nolocation", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/hop/", func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/hop/"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if n == 0 {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Location", strconv.Itoa(n-1))
		w.WriteHeader(http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newChecker(cfg Config) *Checker {
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	return New(cfg, nil)
}

func TestCheckClassificationTable(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	cases := []struct {
		name      string
		path      string
		follow    bool
		max       int
		timeout   time.Duration
		status    audit.LinkStatus
		broken    bool
		code      int
		redirects int
	}{
		{name: "200 ok", path: "/ok", follow: true, max: 5, status: audit.LinkOK, code: 200},
		{name: "redirect not followed", path: "/hop/1", follow: false, max: 5, status: audit.LinkRedirectedOK, code: 302},
		{name: "chain within limit", path: "/hop/3", follow: true, max: 3, status: audit.LinkRedirectedOK, code: 200, redirects: 3},
		{name: "chain over limit", path: "/hop/4", follow: true, max: 3, status: audit.LinkBrokenTooManyRedirects, broken: true, code: 302, redirects: 4},
		{name: "404", path: "/missing", follow: true, max: 5, status: audit.LinkBrokenNotFound, broken: true, code: 404},
		{name: "410", path: "/gone", follow: true, max: 5, status: audit.LinkBrokenClientError, broken: true, code: 410},
		{name: "503", path: "/unavailable", follow: true, max: 5, status: audit.LinkBrokenServerError, broken: true, code: 503},
		{name: "unknown code", path: "/weird", follow: true, max: 5, status: audit.LinkBrokenOther, broken: true, code: 999},
		{name: "timeout", path: "/slow", follow: true, max: 5, timeout: 50 * time.Millisecond, status: audit.LinkBrokenTimeout, broken: true},
		{name: "redirect without location", path: "/nolocation", follow: true, max: 5, status: audit.LinkBrokenOther, broken: true, code: 302, redirects: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := newChecker(Config{FollowRedirects: tc.follow, MaxRedirects: tc.max, Timeout: tc.timeout, Concurrency: 2})
			target := srv.URL + tc.path
			res := c.Check(context.Background(), target)

			assert.Equal(t, target, res.OriginalURL)
			assert.Equal(t, tc.status, res.LinkStatus)
			assert.Equal(t, tc.broken, res.IsBroken)
			assert.Equal(t, tc.code, res.HTTPStatus)
			assert.Equal(t, tc.redirects, res.RedirectCount)
			if tc.broken {
				assert.NotEmpty(t, res.Error)
			} else {
				assert.Empty(t, res.Error)
			}
		})
	}
}

func TestCheckRedirectDetails(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	t.Run("disabled uses location as final url", func(t *testing.T) {
		t.Parallel()
		res := newChecker(Config{FollowRedirects: false}).Check(context.Background(), srv.URL+"/hop/2")
		assert.True(t, res.WasRedirected)
		assert.Equal(t, srv.URL+"/hop/1", res.FinalURL)
	})

	t.Run("followed chain reports landing url", func(t *testing.T) {
		t.Parallel()
		res := newChecker(Config{FollowRedirects: true, MaxRedirects: 5}).Check(context.Background(), srv.URL+"/hop/2")
		assert.True(t, res.WasRedirected)
		assert.Equal(t, srv.URL+"/hop/0", res.FinalURL)
		assert.Equal(t, 2, res.RedirectCount)
	})

	t.Run("zero max rejects first hop", func(t *testing.T) {
		t.Parallel()
		res := newChecker(Config{FollowRedirects: true, MaxRedirects: 0}).Check(context.Background(), srv.URL+"/hop/1")
		assert.Equal(t, audit.LinkBrokenTooManyRedirects, res.LinkStatus)
	})
}

type stubTransport struct {
	err error
}

func (s stubTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, s.err
}

func TestCheckTransportErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		status audit.LinkStatus
	}{
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}, status: audit.LinkBrokenDNS},
		{name: "x509", err: x509.UnknownAuthorityError{}, status: audit.LinkBrokenSSL},
		{name: "deadline", err: context.DeadlineExceeded, status: audit.LinkBrokenTimeout},
		{name: "refused", err: &net.OpError{Op: "dial", Net: "tcp", Err: fmt.Errorf("connection refused")}, status: audit.LinkBrokenOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := newChecker(Config{Transport: stubTransport{err: tc.err}})
			res := c.Check(context.Background(), "https://nowhere.invalid/x")
			assert.Equal(t, tc.status, res.LinkStatus)
			assert.True(t, res.IsBroken)
			assert.Zero(t, res.HTTPStatus)
			assert.Empty(t, res.FinalURL)
			assert.NotEmpty(t, res.Error)
		})
	}
}

func TestCheckCancelledIsUnchecked(t *testing.T) {
	t.Parallel()

	res := newChecker(Config{Transport: stubTransport{err: context.Canceled}}).
		Check(context.Background(), "https://nowhere.invalid/x")
	assert.Equal(t, audit.LinkUnchecked, res.LinkStatus)
	assert.False(t, res.IsBroken)

	srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	res = newChecker(Config{Timeout: 5 * time.Second}).Check(ctx, srv.URL+"/slow")
	assert.Equal(t, audit.LinkUnchecked, res.LinkStatus)
	assert.False(t, res.IsBroken)
	assert.Equal(t, "Check cancelled", res.Error)
}

func TestCheckUntrustedCertificate(t *testing.T) {
	t.Parallel()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	res := newChecker(Config{}).Check(context.Background(), srv.URL)
	assert.Equal(t, audit.LinkBrokenSSL, res.LinkStatus)
}

func TestCheckInvalidURL(t *testing.T) {
	t.Parallel()
	res := newChecker(Config{}).Check(context.Background(), "https://")
	assert.Equal(t, audit.LinkBrokenOther, res.LinkStatus)
	assert.True(t, res.IsBroken)
}

func TestCheckManyPreservesOrder(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	urls := []string{srv.URL + "/missing", srv.URL + "/ok", srv.URL + "/unavailable", srv.URL + "/hop/1"}
	res := newChecker(Config{FollowRedirects: true, MaxRedirects: 5, Concurrency: 3}).CheckMany(context.Background(), urls)

	require.Len(t, res, len(urls))
	for i, u := range urls {
		assert.Equal(t, u, res[i].OriginalURL)
	}
	assert.Equal(t, audit.LinkBrokenNotFound, res[0].LinkStatus)
	assert.Equal(t, audit.LinkOK, res[1].LinkStatus)
	assert.Equal(t, audit.LinkBrokenServerError, res[2].LinkStatus)
	assert.Equal(t, audit.LinkRedirectedOK, res[3].LinkStatus)
}

func TestCheckManyEmpty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, newChecker(Config{}).CheckMany(context.Background(), nil))
}

// countingTransport records peak in-flight requests.
type countingTransport struct {
	inflight atomic.Int32
	mu       sync.Mutex
	peak     int32
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	n := c.inflight.Add(1)
	c.mu.Lock()
	if n > c.peak {
		c.peak = n
	}
	c.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	c.inflight.Add(-1)
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       http.NoBody,
		Request:    req,
	}, nil
}

func TestCheckManyRespectsConcurrencyGate(t *testing.T) {
	t.Parallel()
	tr := &countingTransport{}
	c := newChecker(Config{Concurrency: 2, Transport: tr})

	urls := make([]string, 10)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.test/%d", i)
	}
	res := c.CheckMany(context.Background(), urls)

	require.Len(t, res, 10)
	for _, r := range res {
		assert.Equal(t, audit.LinkOK, r.LinkStatus)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.LessOrEqual(t, tr.peak, int32(2))
	assert.GreaterOrEqual(t, tr.peak, int32(1))
}

func TestFromJob(t *testing.T) {
	t.Parallel()
	cfg := audit.DefaultJobConfig()
	got := FromJob(cfg)
	assert.Equal(t, cfg.Timeout, got.Timeout)
	assert.Equal(t, cfg.FollowRedirects, got.FollowRedirects)
	assert.Equal(t, cfg.MaxRedirects, got.MaxRedirects)
	assert.Equal(t, cfg.Concurrency, got.Concurrency)
}
