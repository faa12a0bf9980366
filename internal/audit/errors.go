package audit

import "errors"

// Sentinel errors shared by stores, the runner and the HTTP layer.
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobExists       = errors.New("job already exists")
	ErrProductNotFound = errors.New("product not in job ledger")
	ErrDryRunJob       = errors.New("job was a dry run; actions are disabled")
	ErrJobRunning      = errors.New("job is still running")
	ErrInvalidAction   = errors.New("invalid action")
)
