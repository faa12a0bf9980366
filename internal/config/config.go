// Package config loads and validates auditor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
	"github.com/JakeFAU/metafield-link-auditor/internal/catalog"
	"github.com/JakeFAU/metafield-link-auditor/internal/linkcheck"
	"github.com/JakeFAU/metafield-link-auditor/internal/logging"
	"github.com/JakeFAU/metafield-link-auditor/internal/policy/ratelimit"
	"github.com/JakeFAU/metafield-link-auditor/internal/progress"
)

// EnvPrefix prefixes every environment override, e.g. LINKAUDIT_SERVER_PORT.
const EnvPrefix = "LINKAUDIT"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig         `mapstructure:"server"`
	Auth     AuthConfig           `mapstructure:"auth"`
	Catalog  CatalogConfig        `mapstructure:"catalog"`
	Checker  CheckerConfig        `mapstructure:"checker"`
	Job      JobDefaults          `mapstructure:"job"`
	Progress ProgressConfig       `mapstructure:"progress"`
	Logging  LoggingConfig        `mapstructure:"logging"`
	Presets  map[string]JobPreset `mapstructure:"presets"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CatalogConfig tunes the catalog client's retry and pacing behavior.
type CatalogConfig struct {
	APIVersion        string        `mapstructure:"api_version"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseBackoff       time.Duration `mapstructure:"base_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	RetryAfterDefault time.Duration `mapstructure:"retry_after_default"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ThrottleThreshold float64       `mapstructure:"throttle_threshold"`
	ThrottlePause     time.Duration `mapstructure:"throttle_pause"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// CheckerConfig holds verifier settings that are not per-job.
type CheckerConfig struct {
	UserAgent    string `mapstructure:"user_agent"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

// JobDefaults seeds every job submitted without explicit knobs.
type JobDefaults struct {
	Status          string        `mapstructure:"status"`
	BatchSize       int           `mapstructure:"batch_size"`
	Concurrency     int           `mapstructure:"concurrency"`
	Timeout         time.Duration `mapstructure:"timeout"`
	FollowRedirects bool          `mapstructure:"follow_redirects"`
	MaxRedirects    int           `mapstructure:"max_redirects"`
	BrokenAction    string        `mapstructure:"broken_action"`
	DryRun          bool          `mapstructure:"dry_run"`
	AutoAction      bool          `mapstructure:"auto_action"`
}

// JobPreset is a named audit that can be launched without restating its scope.
type JobPreset struct {
	Shop          string  `mapstructure:"shop"`
	Namespace     string  `mapstructure:"namespace"`
	Key           string  `mapstructure:"key"`
	Status        string  `mapstructure:"status"`
	CollectionIDs []int64 `mapstructure:"collection_ids"`
	BrokenAction  string  `mapstructure:"broken_action"`
	DryRun        *bool   `mapstructure:"dry_run"`
	AutoAction    *bool   `mapstructure:"auto_action"`
}

// ProgressConfig sizes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("catalog.api_version", audit.DefaultAPIVersion)
	v.SetDefault("catalog.max_retries", catalog.DefaultMaxRetries)
	v.SetDefault("catalog.base_backoff", catalog.DefaultBaseBackoff.String())
	v.SetDefault("catalog.max_backoff", catalog.DefaultMaxBackoff.String())
	v.SetDefault("catalog.retry_after_default", catalog.DefaultRetryAfter.String())
	v.SetDefault("catalog.request_timeout", catalog.DefaultRequestTimeout.String())
	v.SetDefault("catalog.throttle_threshold", catalog.DefaultThrottleThreshold)
	v.SetDefault("catalog.throttle_pause", catalog.DefaultThrottlePause.String())
	v.SetDefault("catalog.requests_per_second", 0)
	v.SetDefault("catalog.burst", 2)
	v.SetDefault("checker.user_agent", linkcheck.DefaultUserAgent)
	v.SetDefault("checker.max_body_bytes", linkcheck.DefaultMaxBodyBytes)
	v.SetDefault("job.status", string(audit.StatusActive))
	v.SetDefault("job.batch_size", audit.DefaultBatchSize)
	v.SetDefault("job.concurrency", audit.DefaultConcurrency)
	v.SetDefault("job.timeout", audit.DefaultTimeout.String())
	v.SetDefault("job.follow_redirects", true)
	v.SetDefault("job.max_redirects", audit.DefaultMaxRedirects)
	v.SetDefault("job.broken_action", string(audit.ActionHide))
	v.SetDefault("job.dry_run", false)
	v.SetDefault("job.auto_action", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 64)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.sink_timeout", "10s")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Catalog.MaxRetries < 0 {
		return fmt.Errorf("catalog.max_retries must be >= 0")
	}
	if c.Catalog.ThrottleThreshold <= 0 || c.Catalog.ThrottleThreshold > 1 {
		return fmt.Errorf("catalog.throttle_threshold must be in (0, 1]")
	}
	if c.Catalog.RequestsPerSecond < 0 {
		return fmt.Errorf("catalog.requests_per_second must be >= 0")
	}
	if c.Checker.MaxBodyBytes < 0 {
		return fmt.Errorf("checker.max_body_bytes must be >= 0")
	}
	if c.Progress.BufferSize <= 0 {
		return fmt.Errorf("progress.buffer_size must be > 0")
	}
	sample := c.Job.apply(audit.JobConfig{
		Shop: "sample", Token: "sample", Namespace: "sample", Key: "sample",
	})
	if err := sample.Validate(); err != nil {
		return fmt.Errorf("job defaults: %w", err)
	}
	for name, preset := range c.Presets {
		if preset.Shop == "" || preset.Namespace == "" || preset.Key == "" {
			return fmt.Errorf("presets.%s: shop, namespace and key are required", name)
		}
	}
	return nil
}

// JobConfig returns a job configuration seeded from the job defaults. Scope
// and credentials are left for the caller.
func (c Config) JobConfig() audit.JobConfig {
	cfg := c.Job.apply(audit.JobConfig{})
	cfg.APIVersion = c.Catalog.APIVersion
	return cfg.WithDefaults()
}

// Preset resolves a named preset on top of the job defaults.
func (c Config) Preset(name string) (audit.JobConfig, error) {
	p, ok := c.Presets[name]
	if !ok {
		return audit.JobConfig{}, fmt.Errorf("unknown preset %q", name)
	}
	cfg := c.JobConfig()
	cfg.Shop = p.Shop
	cfg.Namespace = p.Namespace
	cfg.Key = p.Key
	cfg.CollectionIDs = append([]int64(nil), p.CollectionIDs...)
	if p.Status != "" {
		cfg.Status = audit.ProductStatus(p.Status)
	}
	if p.BrokenAction != "" {
		cfg.BrokenAction = audit.BrokenAction(p.BrokenAction)
	}
	if p.DryRun != nil {
		cfg.DryRun = *p.DryRun
	}
	if p.AutoAction != nil {
		cfg.AutoAction = *p.AutoAction
	}
	return cfg, nil
}

func (d JobDefaults) apply(cfg audit.JobConfig) audit.JobConfig {
	cfg.Status = audit.ProductStatus(d.Status)
	cfg.BatchSize = d.BatchSize
	cfg.Concurrency = d.Concurrency
	cfg.Timeout = d.Timeout
	cfg.FollowRedirects = d.FollowRedirects
	cfg.MaxRedirects = d.MaxRedirects
	cfg.BrokenAction = audit.BrokenAction(d.BrokenAction)
	cfg.DryRun = d.DryRun
	cfg.AutoAction = d.AutoAction
	return cfg.WithDefaults()
}

// CatalogClient returns the catalog client settings without shop credentials.
// A configured max_retries of 0 disables retries.
func (c Config) CatalogClient() catalog.Config {
	retries := c.Catalog.MaxRetries
	if retries == 0 {
		retries = catalog.NoRetries
	}
	return catalog.Config{
		APIVersion:        c.Catalog.APIVersion,
		MaxRetries:        retries,
		BaseBackoff:       c.Catalog.BaseBackoff,
		MaxBackoff:        c.Catalog.MaxBackoff,
		RetryAfterDefault: c.Catalog.RetryAfterDefault,
		ThrottleThreshold: c.Catalog.ThrottleThreshold,
		ThrottlePause:     c.Catalog.ThrottlePause,
		RequestTimeout:    c.Catalog.RequestTimeout,
		UserAgent:         c.Catalog.UserAgent,
	}
}

// RateLimiter builds the catalog pacing limiter, or nil when pacing is off.
func (c Config) RateLimiter() *ratelimit.Limiter {
	if c.Catalog.RequestsPerSecond <= 0 {
		return nil
	}
	return ratelimit.New(ratelimit.Config{
		DefaultRPS:   c.Catalog.RequestsPerSecond,
		DefaultBurst: c.Catalog.Burst,
	})
}

// Verifier returns verifier settings for one job.
func (c Config) Verifier(job audit.JobConfig) linkcheck.Config {
	cfg := linkcheck.FromJob(job)
	cfg.UserAgent = c.Checker.UserAgent
	cfg.MaxBodyBytes = c.Checker.MaxBodyBytes
	return cfg
}

// Hub returns progress hub settings. Hubs carrying ledger rows are lossless.
func (c Config) Hub() progress.Config {
	return progress.Config{
		BufferSize:     c.Progress.BufferSize,
		MaxBatchEvents: c.Progress.MaxBatchEvents,
		MaxBatchWait:   c.Progress.MaxBatchWait,
		SinkTimeout:    c.Progress.SinkTimeout,
		Lossless:       true,
	}
}

// Logger returns the logging options.
func (c Config) Logger() logging.Options {
	return logging.Options{Development: c.Logging.Development, Level: c.Logging.Level}
}
