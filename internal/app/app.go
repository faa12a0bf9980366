// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
	"github.com/JakeFAU/metafield-link-auditor/internal/catalog"
	"github.com/JakeFAU/metafield-link-auditor/internal/clock/system"
	"github.com/JakeFAU/metafield-link-auditor/internal/config"
	"github.com/JakeFAU/metafield-link-auditor/internal/id/uuid"
	"github.com/JakeFAU/metafield-link-auditor/internal/job"
	"github.com/JakeFAU/metafield-link-auditor/internal/linkcheck"
	"github.com/JakeFAU/metafield-link-auditor/internal/metrics"
	"github.com/JakeFAU/metafield-link-auditor/internal/policy/ratelimit"
	"github.com/JakeFAU/metafield-link-auditor/internal/progress"
	"github.com/JakeFAU/metafield-link-auditor/internal/progress/sinks"
	"github.com/JakeFAU/metafield-link-auditor/internal/storage/memory"
)

// Options overrides collaborators, mainly for tests.
type Options struct {
	// Registerer receives the job lifecycle collectors. Nil uses the default registry.
	Registerer prometheus.Registerer
	// Catalogs replaces the HTTP catalog client factory.
	Catalogs job.CatalogFactory
	// Verifiers replaces the HTTP link verifier factory.
	Verifiers job.VerifierFactory
	Clock     audit.Clock
	IDs       audit.IDGenerator
}

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and passed to the components that need it.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *memory.JobStore
	hub      *progress.Hub
	limiter  *ratelimit.Limiter
	runner   *job.Runner
	manual   *job.ManualActions
	launcher *Launcher
	clock    audit.Clock
	ids      audit.IDGenerator
}

// New wires the job store, progress hub and sinks, runner and launcher.
func New(cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	a := &App{
		cfg:     cfg,
		logger:  logger,
		store:   memory.NewJobStore(),
		limiter: cfg.RateLimiter(),
		clock:   opts.Clock,
		ids:     opts.IDs,
	}
	if a.clock == nil {
		a.clock = system.New()
	}
	if a.ids == nil {
		a.ids = uuid.New()
	}

	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register job metrics: %w", err)
	}
	hubCfg := cfg.Hub()
	hubCfg.Logger = logger.Named("progress")
	a.hub = progress.NewHub(hubCfg,
		sinks.NewStoreSink(a.store, logger.Named("store_sink")),
		sinks.NewLogSink(logger.Named("jobs")),
		promSink,
	)

	catalogs := opts.Catalogs
	if catalogs == nil {
		catalogs = a.catalogFor
	}
	verifiers := opts.Verifiers
	if verifiers == nil {
		verifiers = a.verifierFor
	}
	a.runner = job.NewRunner(catalogs, verifiers, a.clock, logger.Named("runner"))
	a.manual = job.NewManualActions(a.store, catalogs, logger.Named("manual"))
	a.launcher = NewLauncher(a.runner, a.hub, logger.Named("launcher"))

	logger.Info("application services initialized",
		zap.Bool("catalog_pacing", a.limiter != nil),
		zap.String("api_version", cfg.Catalog.APIVersion))
	return a, nil
}

func (a *App) catalogFor(cfg audit.JobConfig) (audit.Catalog, error) {
	client, err := catalog.New(catalog.FromJob(a.cfg.CatalogClient(), cfg), a.limiter, a.logger.Named("catalog"))
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (a *App) verifierFor(cfg audit.JobConfig) audit.LinkVerifier {
	return linkcheck.New(a.cfg.Verifier(cfg), a.logger.Named("linkcheck"))
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the job store.
func (a *App) Store() audit.JobStore { return a.store }

// Launcher returns the asynchronous job launcher.
func (a *App) Launcher() *Launcher { return a.launcher }

// Manual returns the manual action service.
func (a *App) Manual() *job.ManualActions { return a.manual }

// Clock returns the application clock.
func (a *App) Clock() audit.Clock { return a.clock }

// IDs returns the job id generator.
func (a *App) IDs() audit.IDGenerator { return a.ids }

// Submit validates cfg, records a pending job and starts it in the background.
func (a *App) Submit(ctx context.Context, cfg audit.JobConfig) (audit.Job, error) {
	if err := cfg.Validate(); err != nil {
		return audit.Job{}, err
	}
	id, err := a.ids.NewID()
	if err != nil {
		return audit.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	j := audit.Job{
		ID:        id,
		Config:    cfg,
		Status:    audit.JobStatusPending,
		Submitted: a.clock.Now(),
	}
	if err := a.store.CreateJob(ctx, j); err != nil {
		return audit.Job{}, fmt.Errorf("create job: %w", err)
	}
	if err := a.launcher.Launch(j); err != nil {
		return audit.Job{}, err
	}
	return j, nil
}

// RunSync records a job and runs it on the calling goroutine. Progress still
// flows through the hub; extra receives every event as well.
func (a *App) RunSync(ctx context.Context, cfg audit.JobConfig, extra progress.Emitter) (audit.Job, job.Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return audit.Job{}, job.Outcome{}, err
	}
	id, err := a.ids.NewID()
	if err != nil {
		return audit.Job{}, job.Outcome{}, fmt.Errorf("generate job id: %w", err)
	}
	j := audit.Job{ID: id, Config: cfg, Status: audit.JobStatusPending, Submitted: a.clock.Now()}
	if err := a.store.CreateJob(ctx, j); err != nil {
		return audit.Job{}, job.Outcome{}, fmt.Errorf("create job: %w", err)
	}
	emit := progress.Emitter(a.hub)
	if extra != nil {
		emit = progress.EmitterFunc(func(evt progress.Event) {
			a.hub.Emit(evt)
			extra.Emit(evt)
		})
	}
	out, err := a.runner.Run(ctx, j, emit)
	return j, out, err
}

// Close cancels running jobs, waits for them and flushes the progress hub.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")
	var errs []error
	if err := a.launcher.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.hub.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
