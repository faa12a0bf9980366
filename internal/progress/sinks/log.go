package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/metafield-link-auditor/internal/progress"
)

// LogSink emits structured logs for audit progress. Broken rows are logged at
// debug level so a verbose run shows exactly which links failed.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.String("status", string(evt.Status)),
			zap.Int("processed", evt.Stats.Processed),
			zap.Int("total_products", evt.Stats.TotalProducts),
			zap.Int("batch", evt.Stats.BatchIndex),
			zap.Int("total_batches", evt.Stats.TotalBatches),
			zap.Int("broken_urls", evt.Stats.BrokenURLCount),
			zap.Int("errors", evt.Stats.ErrorsCount),
			zap.Duration("dur", evt.Dur),
		}
		switch evt.Stage {
		case progress.StageJobError:
			s.logger.Error("audit job failed", append(fields,
				zap.String("error", evt.Note),
				zap.Int("rows", len(evt.Rows)),
				zap.String("resume_token", evt.ResumeToken))...)
			s.logBrokenRows(evt)
		case progress.StageJobDone:
			s.logger.Info("audit job finished", fields...)
		case progress.StageBatchDone:
			s.logger.Info("audit batch done", append(fields, zap.Int("rows", len(evt.Rows)))...)
			s.logBrokenRows(evt)
		default:
			s.logger.Info("audit job started", fields...)
		}
	}
	return nil
}

func (s *LogSink) logBrokenRows(evt progress.Event) {
	for _, row := range evt.Rows {
		if !row.IsBroken {
			continue
		}
		s.logger.Debug("broken link",
			zap.String("job_id", evt.JobID),
			zap.Int64("product_id", row.ProductID),
			zap.String("url", row.OriginalURL),
			zap.String("link_status", string(row.LinkStatus)),
			zap.String("action", string(row.Action)),
		)
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
