package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
	"github.com/JakeFAU/metafield-link-auditor/internal/progress"
)

// StoreSink applies progress events to an audit.JobStore: lifecycle
// transitions, stats snapshots, resume tokens and ledger rows.
type StoreSink struct {
	store  audit.JobStore
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided store.
func NewStoreSink(store audit.JobStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, logger: logger}
}

// Consume applies events in order. It stops at the first store error so later
// events never overtake a failed write.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.apply(ctx, evt); err != nil {
			return fmt.Errorf("apply %s for job %s: %w", evt.Stage, evt.JobID, err)
		}
	}
	return nil
}

func (s *StoreSink) apply(ctx context.Context, evt progress.Event) error {
	job, err := s.store.GetJob(ctx, evt.JobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job.Status.Terminal() && !evt.Stage.Terminal() {
		s.logger.Warn("ignoring progress for finished job",
			zap.String("job_id", evt.JobID), zap.String("stage", string(evt.Stage)))
		return nil
	}
	// A failed job carries the rows of its partial batch.
	if (evt.Stage == progress.StageBatchDone || evt.Stage == progress.StageJobError) && len(evt.Rows) > 0 {
		if err := s.store.AppendResults(ctx, evt.JobID, evt.Rows); err != nil {
			return fmt.Errorf("append results: %w", err)
		}
	}

	ts := evt.TS.UTC()
	switch evt.Stage {
	case progress.StageJobStart:
		job.Status = audit.JobStatusRunning
		if job.Started == nil {
			job.Started = &ts
		}
	case progress.StageBatchDone:
		job.Status = audit.JobStatusRunning
	case progress.StageJobDone:
		job.Status = audit.JobStatusCompleted
		job.Finished = &ts
		job.Error = ""
	case progress.StageJobError:
		job.Status = audit.JobStatusFailed
		job.Finished = &ts
		job.Error = evt.Note
	}
	if evt.Stage != progress.StageJobStart {
		job.Stats = evt.Stats
	}
	if evt.ResumeToken != "" {
		job.ResumeToken = evt.ResumeToken
	}
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
