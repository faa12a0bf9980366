package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
	"github.com/JakeFAU/metafield-link-auditor/internal/config"
	"github.com/JakeFAU/metafield-link-auditor/internal/job"
	"github.com/JakeFAU/metafield-link-auditor/internal/progress"
)

const tokenEnv = config.EnvPrefix + "_TOKEN"

type runFlags struct {
	preset          string
	shop            string
	token           string
	namespace       string
	key             string
	status          string
	collectionIDs   []int64
	batchSize       int
	concurrency     int
	timeout         time.Duration
	followRedirects bool
	maxRedirects    int
	dryRun          bool
	autoAction      bool
	action          string
	updatedAfter    string
	resumeToken     string
}

func newRunCmd() *cobra.Command {
	return newRunCmdWith(&runFlags{})
}

func newRunCmdWith(f *runFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one audit in the foreground",
		Long: `Runs a single audit and prints a JSON summary with the final counters and
a resume token. Interrupting the run (Ctrl-C) stops it at the next batch
boundary; pass the printed token back with --resume-token to continue.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAudit(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.preset, "preset", "", "named preset from the config file")
	fl.StringVar(&f.shop, "shop", "", "shop domain, e.g. demo.myshopify.com")
	fl.StringVar(&f.token, "token", os.Getenv(tokenEnv), "admin API access token (default $"+tokenEnv+")")
	fl.StringVar(&f.namespace, "namespace", "", "metafield namespace")
	fl.StringVar(&f.key, "key", "", "metafield key")
	fl.StringVar(&f.status, "status", "", "product status filter: active, draft, archived or any")
	fl.Int64SliceVar(&f.collectionIDs, "collection", nil, "restrict to collection ids (repeatable)")
	fl.IntVar(&f.batchSize, "batch-size", 0, "products per batch (1-250)")
	fl.IntVar(&f.concurrency, "concurrency", 0, "concurrent link checks (1-100)")
	fl.DurationVar(&f.timeout, "timeout", 0, "per-request link check timeout")
	fl.BoolVar(&f.followRedirects, "follow-redirects", true, "follow redirects when checking links")
	fl.IntVar(&f.maxRedirects, "max-redirects", 0, "redirect hop limit")
	fl.BoolVar(&f.dryRun, "dry-run", false, "record what would change without mutating products")
	fl.BoolVar(&f.autoAction, "auto-action", false, "apply the broken action without review")
	fl.StringVar(&f.action, "action", "", "broken action: hide, archive or ignore")
	fl.StringVar(&f.updatedAfter, "updated-after", "", "only audit products updated after this RFC 3339 time")
	fl.StringVar(&f.resumeToken, "resume-token", "", "continue a previous run")
	return cmd
}

func runAudit(cmd *cobra.Command, f *runFlags) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	jobCfg, err := f.jobConfig(cmd, a.Config())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := a.Logger()
	logBatch := progress.EmitterFunc(func(evt progress.Event) {
		if evt.Stage != progress.StageBatchDone {
			return
		}
		logger.Info("batch finished",
			zap.Int("batch", evt.Stats.BatchIndex),
			zap.Int("of", evt.Stats.TotalBatches),
			zap.Int("processed", evt.Stats.Processed),
			zap.Int("broken_urls", evt.Stats.BrokenURLCount))
	})

	j, out, runErr := a.RunSync(ctx, jobCfg, logBatch)
	if j.ID == "" {
		return runErr
	}
	if err := writeSummary(cmd.OutOrStdout(), j.ID, out, runErr); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("audit %s did not complete: %w", j.ID, runErr)
	}
	return nil
}

// jobConfig layers a preset (if any) and then explicitly set flags over the
// configured job defaults.
func (f *runFlags) jobConfig(cmd *cobra.Command, cfg config.Config) (audit.JobConfig, error) {
	jc := cfg.JobConfig()
	if f.preset != "" {
		var err error
		if jc, err = cfg.Preset(f.preset); err != nil {
			return audit.JobConfig{}, err
		}
	}
	changed := cmd.Flags().Changed
	if changed("shop") {
		jc.Shop = f.shop
	}
	jc.Token = f.token
	if changed("namespace") {
		jc.Namespace = f.namespace
	}
	if changed("key") {
		jc.Key = f.key
	}
	if changed("status") {
		jc.Status = audit.ProductStatus(f.status)
	}
	if changed("collection") {
		jc.CollectionIDs = f.collectionIDs
	}
	if changed("batch-size") {
		jc.BatchSize = f.batchSize
	}
	if changed("concurrency") {
		jc.Concurrency = f.concurrency
	}
	if changed("timeout") {
		jc.Timeout = f.timeout
	}
	if changed("follow-redirects") {
		jc.FollowRedirects = f.followRedirects
	}
	if changed("max-redirects") {
		jc.MaxRedirects = f.maxRedirects
	}
	if changed("dry-run") {
		jc.DryRun = f.dryRun
	}
	if changed("auto-action") {
		jc.AutoAction = f.autoAction
	}
	if changed("action") {
		jc.BrokenAction = audit.BrokenAction(f.action)
	}
	if f.updatedAfter != "" {
		t, err := time.Parse(time.RFC3339, f.updatedAfter)
		if err != nil {
			return audit.JobConfig{}, fmt.Errorf("parse --updated-after: %w", err)
		}
		jc.UpdatedAfter = &t
	}
	jc.ResumeToken = f.resumeToken
	return jc, jc.Validate()
}

type runSummary struct {
	JobID       string          `json:"job_id"`
	Status      audit.JobStatus `json:"status"`
	Resumed     bool            `json:"resumed"`
	Stats       audit.JobStats  `json:"stats"`
	ResumeToken string          `json:"resume_token,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func writeSummary(w io.Writer, jobID string, out job.Outcome, runErr error) error {
	s := runSummary{
		JobID:       jobID,
		Status:      out.Status,
		Resumed:     out.Resumed,
		Stats:       out.Stats,
		ResumeToken: out.ResumeToken,
	}
	if runErr != nil {
		s.Error = runErr.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
