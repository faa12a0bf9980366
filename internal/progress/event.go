package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart  Stage = "JOB_START"
	StageBatchDone Stage = "BATCH_DONE"
	StageJobDone   Stage = "JOB_DONE"
	StageJobError  Stage = "JOB_ERROR"
)

// Terminal reports whether the stage ends a job.
func (s Stage) Terminal() bool {
	return s == StageJobDone || s == StageJobError
}

// Event captures one milestone of an audit job.
type Event struct {
	// JobID identifies the job run.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Status is the job status after this event.
	Status audit.JobStatus
	// Stats is a snapshot of the job counters.
	Stats audit.JobStats
	// Rows holds the ledger rows produced by the batch. JOB_ERROR carries the
	// rows of products finished before a batch failed part-way.
	Rows []audit.CheckResult
	// ResumeToken is the checkpoint after this event, when one exists.
	ResumeToken string
	// Note carries the failure reason for JOB_ERROR.
	Note string
	// Dur is the batch or job wall time.
	Dur time.Duration
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone:
	case StageBatchDone:
		if e.Stats.BatchIndex <= 0 {
			return errors.New("batch done requires a batch index")
		}
	case StageJobError:
		if e.Note == "" {
			return errors.New("job error requires a note")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
