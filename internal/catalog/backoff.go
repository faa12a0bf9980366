package catalog

import (
	"crypto/rand"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Backoff computes jittered exponential retry delays.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns a duration drawn uniformly from [0, min(Base*2^attempt, Max)).
// Attempts are zero-indexed.
func (b Backoff) Delay(attempt int) time.Duration {
	ceiling := b.Ceiling(attempt)
	return randomJitter(ceiling)
}

// Ceiling is the un-jittered delay for attempt.
func (b Backoff) Ceiling(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(b.Base) * math.Pow(2, float64(attempt))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return time.Duration(delay)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// retryAfter reads the Retry-After header as seconds, falling back to def.
func retryAfter(h http.Header, def time.Duration) time.Duration {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return def
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs < 0 {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

// callLimit parses an "used/bucket" usage header. Missing or malformed
// headers read as an empty bucket of 40.
func callLimit(raw string) (used, bucket int) {
	used, bucket = 0, 40
	parts := strings.Split(strings.TrimSpace(raw), "/")
	if len(parts) != 2 {
		return used, bucket
	}
	u, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	b, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return used, bucket
	}
	return u, b
}

// shouldThrottle reports whether usage has reached threshold of the bucket.
func shouldThrottle(used, bucket int, threshold float64) bool {
	if bucket <= 0 {
		return false
	}
	return float64(used)/float64(bucket) >= threshold
}
