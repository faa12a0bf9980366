package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
	"github.com/JakeFAU/metafield-link-auditor/internal/job"
	"github.com/JakeFAU/metafield-link-auditor/internal/progress"
)

// ErrShuttingDown is returned when a job is launched after Shutdown.
var ErrShuttingDown = errors.New("launcher is shutting down")

// Launcher runs jobs on their own goroutines and tracks them for cancellation.
type Launcher struct {
	runner *job.Runner
	emit   progress.Emitter
	logger *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewLauncher constructs a Launcher.
func NewLauncher(runner *job.Runner, emit progress.Emitter, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		runner:  runner,
		emit:    emit,
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Launch starts j in the background.
func (l *Launcher) Launch(j audit.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrShuttingDown
	}
	if _, running := l.cancels[j.ID]; running {
		return fmt.Errorf("%w: %s", audit.ErrJobRunning, j.ID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancels[j.ID] = cancel
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.forget(j.ID)
		out, err := l.runner.Run(ctx, j, l.emit)
		if err != nil {
			l.logger.Warn("job ended with error",
				zap.String("job_id", j.ID), zap.Error(err), zap.Int("processed", out.Stats.Processed))
		}
	}()
	return nil
}

// Cancel asks a running job to stop at its next batch boundary. It reports
// whether the job was running.
func (l *Launcher) Cancel(jobID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cancel, ok := l.cancels[jobID]
	if ok {
		cancel()
	}
	return ok
}

// Running reports how many jobs are in flight.
func (l *Launcher) Running() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cancels)
}

func (l *Launcher) forget(jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cancel, ok := l.cancels[jobID]; ok {
		cancel()
		delete(l.cancels, jobID)
	}
}

// Shutdown rejects new jobs, cancels running ones and waits for them to emit
// their terminal events.
func (l *Launcher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	for _, cancel := range l.cancels {
		cancel()
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("launcher shutdown wait: %w", ctx.Err())
	}
}
