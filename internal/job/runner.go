package job

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
	"github.com/JakeFAU/metafield-link-auditor/internal/checkpoint"
	"github.com/JakeFAU/metafield-link-auditor/internal/clock/system"
	"github.com/JakeFAU/metafield-link-auditor/internal/extract"
	"github.com/JakeFAU/metafield-link-auditor/internal/logging"
	"github.com/JakeFAU/metafield-link-auditor/internal/progress"
)

// CatalogFactory builds the catalog client for one job's shop and credentials.
type CatalogFactory func(cfg audit.JobConfig) (audit.Catalog, error)

// VerifierFactory builds the link verifier for one job. One verifier per job
// keeps its concurrency gate job-wide.
type VerifierFactory func(cfg audit.JobConfig) audit.LinkVerifier

// Outcome summarizes a finished run.
type Outcome struct {
	Status      audit.JobStatus
	Stats       audit.JobStats
	ResumeToken string
	Resumed     bool
}

// Runner executes audit jobs. It keeps no state between runs.
type Runner struct {
	catalogs  CatalogFactory
	verifiers VerifierFactory
	clock     audit.Clock
	logger    *zap.Logger
}

// NewRunner constructs a Runner. clock and logger may be nil.
func NewRunner(catalogs CatalogFactory, verifiers VerifierFactory, clock audit.Clock, logger *zap.Logger) *Runner {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		catalogs:  catalogs,
		verifiers: verifiers,
		clock:     clock,
		logger:    logger,
	}
}

// run is the mutable state of one job execution. Only the run loop touches it.
type run struct {
	job      audit.Job
	cfg      audit.JobConfig
	cp       *checkpoint.Checkpoint
	resumed  bool
	stats    audit.JobStats
	catalog  audit.Catalog
	verifier audit.LinkVerifier
	emit     progress.Emitter
	logger   *zap.Logger
	started  time.Time
	// partial holds rows of a batch that failed part-way.
	partial  []audit.CheckResult
}

// Run executes job to completion and reports every milestone to emit. The
// returned error is non-nil exactly when the job failed; the outcome still
// carries the best available resume token. Cancelling ctx stops the job before
// the next product; a product whose checks were interrupted stays unprocessed.
func (r *Runner) Run(ctx context.Context, job audit.Job, emit progress.Emitter) (Outcome, error) {
	if emit == nil {
		emit = progress.Discard
	}
	cfg := job.Config
	st := &run{
		job:     job,
		cfg:     cfg,
		emit:    emit,
		logger:  logging.ForJob(r.logger, job.ID, cfg.Shop),
		started: r.clock.Now(),
	}

	fp, err := checkpoint.Fingerprint(checkpoint.ScopeOf(cfg))
	if err != nil {
		return r.fail(st, fmt.Errorf("fingerprint scope: %w", err))
	}
	st.cp, st.resumed = checkpoint.Restore(cfg.ResumeToken, fp, st.logger)
	st.stats.Processed = st.cp.ProcessedCount

	r.publish(st, progress.Event{Stage: progress.StageJobStart, Status: audit.JobStatusRunning})
	st.logger.Info("job started", zap.Bool("resumed", st.resumed), zap.Bool("dry_run", cfg.DryRun))

	if r.catalogs == nil || r.verifiers == nil {
		return r.fail(st, errors.New("runner is missing a catalog or verifier factory"))
	}
	if st.catalog, err = r.catalogs(cfg); err != nil {
		return r.fail(st, fmt.Errorf("build catalog client: %w", err))
	}
	st.verifier = r.verifiers(cfg)

	res := &resolver{catalog: st.catalog, cfg: cfg, cp: st.cp, logger: st.logger}
	products, err := res.resolve(ctx)
	if err != nil {
		return r.fail(st, err)
	}

	batchSize := max(cfg.BatchSize, 1)
	st.stats.TotalProducts = len(products)
	st.stats.TotalBatches = (len(products) + batchSize - 1) / batchSize
	st.logger.Info("candidates resolved",
		zap.Int("products", len(products)), zap.Int("batches", st.stats.TotalBatches))

	index := 0
	for batch := range slices.Chunk(products, batchSize) {
		if err := ctx.Err(); err != nil {
			return r.fail(st, fmt.Errorf("job cancelled: %w", err))
		}
		index++
		st.stats.BatchIndex = index
		batchStart := r.clock.Now()

		rows, err := r.processBatch(ctx, st, batch)
		if err != nil {
			st.partial = rows
			return r.fail(st, err)
		}
		st.cp.ProcessedCount = st.stats.Processed
		token, err := r.token(st)
		if err != nil {
			return r.fail(st, err)
		}
		r.publish(st, progress.Event{
			Stage:       progress.StageBatchDone,
			Status:      audit.JobStatusRunning,
			Rows:        rows,
			ResumeToken: token,
			Dur:         r.clock.Now().Sub(batchStart),
		})
	}

	token, err := r.token(st)
	if err != nil {
		return r.fail(st, err)
	}
	r.publish(st, progress.Event{
		Stage:       progress.StageJobDone,
		Status:      audit.JobStatusCompleted,
		ResumeToken: token,
		Dur:         r.clock.Now().Sub(st.started),
	})
	st.logger.Info("job completed",
		zap.Int("processed", st.stats.Processed),
		zap.Int("broken_urls", st.stats.BrokenURLCount),
		zap.Int("drafted", st.stats.DraftedCount),
		zap.Int("archived", st.stats.ArchivedCount),
		zap.Int("errors", st.stats.ErrorsCount))
	return Outcome{
		Status:      audit.JobStatusCompleted,
		Stats:       st.stats,
		ResumeToken: token,
		Resumed:     st.resumed,
	}, nil
}

// processBatch returns the rows built so far along with any error, since the
// products behind them are already marked seen.
func (r *Runner) processBatch(ctx context.Context, st *run, batch []audit.Product) ([]audit.CheckResult, error) {
	var rows []audit.CheckResult
	for _, p := range batch {
		productRows, err := r.processProduct(ctx, st, p)
		if err != nil {
			return rows, err
		}
		rows = append(rows, productRows...)
	}
	return rows, nil
}

func (r *Runner) processProduct(ctx context.Context, st *run, p audit.Product) ([]audit.CheckResult, error) {
	if st.cp.Seen(p.ID) {
		return nil, nil
	}
	logger := st.logger.With(zap.Int64("product_id", p.ID))

	value, found, err := st.catalog.GetMetadataField(ctx, p.ID, st.cfg.Namespace, st.cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("read metafield of product %d: %w", p.ID, err)
	}

	var urls []string
	if found {
		urls = extract.URLs(value)
	}
	if len(urls) == 0 {
		st.cp.MarkSeen(p.ID)
		st.stats.Processed++
		st.stats.NoURLCount++
		return []audit.CheckResult{r.row(st, p, audit.LinkCheckResult{
			LinkStatus: audit.LinkNoURL,
		}, audit.ActionTypeNoURLs)}, nil
	}

	results := st.verifier.CheckMany(ctx, urls)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("job cancelled while checking product %d: %w", p.ID, err)
	}
	st.cp.MarkSeen(p.ID)
	st.stats.Processed++

	broken := slices.ContainsFunc(results, func(res audit.LinkCheckResult) bool { return res.IsBroken })

	decision := Decide(p.Status, broken, PolicyOf(st.cfg))
	decision, err = Apply(ctx, st.catalog, p.ID, decision)
	if err != nil {
		logger.Error("visibility mutation failed", zap.Error(err))
	} else if decision.Mutates() {
		logger.Info("product visibility changed", zap.String("status", string(decision.Target)))
	}
	tally(&st.stats, results, decision)

	rows := make([]audit.CheckResult, 0, len(results))
	for _, res := range results {
		rows = append(rows, r.row(st, p, res, decision.Action))
	}
	return rows, nil
}

func (r *Runner) row(st *run, p audit.Product, res audit.LinkCheckResult, action audit.ActionType) audit.CheckResult {
	return audit.CheckResult{
		ProductID:       p.ID,
		ProductTitle:    p.Title,
		ProductStatus:   p.Status,
		ProductHandle:   p.Handle,
		ProductImage:    p.ImageURL,
		Metafield:       st.cfg.Metafield(),
		LinkCheckResult: res,
		Action:          action,
		CheckedAt:       r.clock.Now(),
	}
}

func (r *Runner) token(st *run) (string, error) {
	st.cp.Prune()
	st.cp.SavedAt = r.clock.Now()
	token, err := checkpoint.Encode(st.cp)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	return token, nil
}

// fail ends the run as failed. The emitted token is the current checkpoint,
// or the caller's token when no checkpoint could be built.
func (r *Runner) fail(st *run, cause error) (Outcome, error) {
	token := st.cfg.ResumeToken
	if st.cp != nil {
		st.cp.ProcessedCount = st.stats.Processed
		if t, err := r.token(st); err == nil {
			token = t
		} else {
			st.logger.Error("encode checkpoint on failure", zap.Error(err))
		}
	}
	r.publish(st, progress.Event{
		Stage:       progress.StageJobError,
		Status:      audit.JobStatusFailed,
		Rows:        st.partial,
		ResumeToken: token,
		Note:        cause.Error(),
		Dur:         r.clock.Now().Sub(st.started),
	})
	st.logger.Error("job failed", zap.Error(cause), zap.Int("processed", st.stats.Processed))
	return Outcome{
		Status:      audit.JobStatusFailed,
		Stats:       st.stats,
		ResumeToken: token,
		Resumed:     st.resumed,
	}, cause
}

func (r *Runner) publish(st *run, evt progress.Event) {
	evt.JobID = st.job.ID
	evt.TS = r.clock.Now()
	evt.Stats = st.stats
	st.emit.Emit(evt)
}
