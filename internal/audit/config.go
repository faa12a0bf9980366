package audit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Bounds and defaults applied to job configuration.
const (
	MaxBatchSize     = 250
	MaxConcurrency   = 100
	MaxRedirectLimit = 20
	MinTimeout       = time.Second
	MaxTimeout       = 60 * time.Second

	DefaultBatchSize    = 250
	DefaultConcurrency  = 20
	DefaultTimeout      = 8 * time.Second
	DefaultMaxRedirects = 5
	DefaultAPIVersion   = "2024-10"
)

// JobConfig holds the immutable inputs of a single audit job.
type JobConfig struct {
	Shop            string        `json:"shop" validate:"required"`
	Token           string        `json:"-" validate:"required"`
	APIVersion      string        `json:"api_version" validate:"required"`
	Namespace       string        `json:"namespace" validate:"required"`
	Key             string        `json:"key" validate:"required"`
	Status          ProductStatus `json:"status" validate:"oneof=active draft archived any"`
	CollectionIDs   []int64       `json:"collection_ids,omitempty" validate:"omitempty,dive,gt=0"`
	BatchSize       int           `json:"batch_size" validate:"min=1,max=250"`
	Concurrency     int           `json:"concurrency" validate:"min=1,max=100"`
	Timeout         time.Duration `json:"timeout"`
	FollowRedirects bool          `json:"follow_redirects"`
	MaxRedirects    int           `json:"max_redirects" validate:"min=0,max=20"`
	DryRun          bool          `json:"dry_run"`
	AutoAction      bool          `json:"auto_action"`
	BrokenAction    BrokenAction  `json:"broken_action" validate:"oneof=hide archive ignore"`
	UpdatedAfter    *time.Time    `json:"updated_after,omitempty"`
	ResumeToken     string        `json:"resume_token,omitempty"`
}

var validate = validator.New()

// WithDefaults fills zero-valued knobs. FollowRedirects is left alone because its
// zero value is meaningful; callers start from DefaultJobConfig when they want it on.
func (c JobConfig) WithDefaults() JobConfig {
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BrokenAction == "" {
		c.BrokenAction = ActionHide
	}
	return c
}

// DefaultJobConfig returns a config with every default set, including redirect following.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		FollowRedirects: true,
		MaxRedirects:    DefaultMaxRedirects,
	}.WithDefaults()
}

// Validate rejects configurations outside the supported bounds.
func (c JobConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid job config: %s", describe(verrs))
		}
		return fmt.Errorf("invalid job config: %w", err)
	}
	if c.Timeout < MinTimeout || c.Timeout > MaxTimeout {
		return fmt.Errorf("invalid job config: timeout must be between %s and %s", MinTimeout, MaxTimeout)
	}
	return nil
}

// Metafield returns the namespace.key identifier recorded on ledger rows.
func (c JobConfig) Metafield() string {
	return c.Namespace + "." + c.Key
}

func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
