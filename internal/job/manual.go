package job

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
)

// ManualActions applies a reviewer's decision to one product of a finished job.
type ManualActions struct {
	store    audit.JobStore
	catalogs CatalogFactory
	logger   *zap.Logger
}

// NewManualActions constructs ManualActions over a job store.
func NewManualActions(store audit.JobStore, catalogs CatalogFactory, logger *zap.Logger) *ManualActions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManualActions{store: store, catalogs: catalogs, logger: logger}
}

// Apply mutates the product through the catalog (hide or archive; ignore only
// records the choice), rewrites its ledger rows and moves the product between
// counters. Repeating an applied action changes nothing. Dry-run jobs and jobs
// that have not finished are rejected.
func (m *ManualActions) Apply(ctx context.Context, jobID string, productID int64, action audit.BrokenAction) (audit.ActionType, error) {
	applied := appliedActionFor(action)
	if applied == "" {
		return "", fmt.Errorf("%w: %q", audit.ErrInvalidAction, action)
	}
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Config.DryRun {
		return "", audit.ErrDryRunJob
	}
	if !job.Status.Terminal() {
		return "", audit.ErrJobRunning
	}
	current, err := m.currentAction(ctx, jobID, productID)
	if err != nil {
		return "", err
	}

	logger := m.logger.With(zap.String("job_id", jobID), zap.Int64("product_id", productID))
	if current == applied {
		logger.Info("manual action already applied", zap.String("action", string(applied)))
		return applied, nil
	}
	if target, ok := action.TargetStatus(); ok {
		if m.catalogs == nil {
			return "", fmt.Errorf("apply %s: no catalog configured", action)
		}
		catalog, err := m.catalogs(job.Config)
		if err != nil {
			return "", fmt.Errorf("build catalog client: %w", err)
		}
		d := Decision{Disposition: DispositionApplied, Action: applied, Target: target}
		if _, err := Apply(ctx, catalog, productID, d); err != nil {
			logger.Error("manual action failed", zap.String("action", string(action)), zap.Error(err))
			return "", err
		}
	}

	_, err = m.store.SetProductAction(ctx, jobID, productID, applied, func(stats *audit.JobStats, previous audit.ActionType) {
		restate(stats, previous, applied)
	})
	if err != nil {
		return "", fmt.Errorf("update ledger: %w", err)
	}
	logger.Info("manual action applied", zap.String("action", string(applied)))
	return applied, nil
}

// currentAction returns the action recorded on the product's ledger rows.
func (m *ManualActions) currentAction(ctx context.Context, jobID string, productID int64) (audit.ActionType, error) {
	rows, err := m.store.ListResults(ctx, jobID)
	if err != nil {
		return "", err
	}
	for _, row := range rows {
		if row.ProductID == productID {
			return row.Action, nil
		}
	}
	return "", fmt.Errorf("%w: %d", audit.ErrProductNotFound, productID)
}

func appliedActionFor(a audit.BrokenAction) audit.ActionType {
	switch a {
	case audit.ActionHide, audit.ActionArchive, audit.ActionIgnore:
		return appliedAction(a)
	default:
		return ""
	}
}
