package catalog

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a catalog call that failed permanently, either because the
// server rejected it or because retries ran out.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
	Attempts   int
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode == 0:
		return fmt.Sprintf("catalog %s: request error after %d attempts: %v", e.Op, e.Attempts, e.Err)
	case e.Attempts > 1:
		return fmt.Sprintf("catalog %s: HTTP %d after %d attempts: %s", e.Op, e.StatusCode, e.Attempts, e.Body)
	default:
		return fmt.Sprintf("catalog %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a catalog 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
