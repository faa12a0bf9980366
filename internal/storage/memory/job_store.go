// Package memory keeps audit jobs and their ledgers in process memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
)

// JobStore implements audit.JobStore for a single process.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]audit.Job
	results map[string][]audit.CheckResult
}

var _ audit.JobStore = (*JobStore)(nil)

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]audit.Job),
		results: make(map[string][]audit.CheckResult),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job audit.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", audit.ErrJobExists, job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (audit.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return audit.Job{}, fmt.Errorf("%w: %s", audit.ErrJobNotFound, jobID)
	}
	return cloneJob(job), nil
}

// ListJobs returns every job, newest submission first.
func (s *JobStore) ListJobs(_ context.Context) ([]audit.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Submitted.Equal(out[j].Submitted) {
			return out[i].ID > out[j].ID
		}
		return out[i].Submitted.After(out[j].Submitted)
	})
	return out, nil
}

// UpdateJob replaces a stored job.
func (s *JobStore) UpdateJob(_ context.Context, job audit.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return fmt.Errorf("%w: %s", audit.ErrJobNotFound, job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// AppendResults adds ledger rows for a job.
func (s *JobStore) AppendResults(_ context.Context, jobID string, rows []audit.CheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("%w: %s", audit.ErrJobNotFound, jobID)
	}
	s.results[jobID] = append(s.results[jobID], rows...)
	return nil
}

// ListResults returns a copy of a job's ledger in append order.
func (s *JobStore) ListResults(_ context.Context, jobID string) ([]audit.CheckResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, fmt.Errorf("%w: %s", audit.ErrJobNotFound, jobID)
	}
	rows := s.results[jobID]
	out := make([]audit.CheckResult, len(rows))
	copy(out, rows)
	return out, nil
}

// SetProductAction rewrites the action of every ledger row for productID and
// returns how many rows changed. Rows and counters change under one lock.
func (s *JobStore) SetProductAction(_ context.Context, jobID string, productID int64, action audit.ActionType, restate func(*audit.JobStats, audit.ActionType)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", audit.ErrJobNotFound, jobID)
	}
	rows := s.results[jobID]
	var previous audit.ActionType
	found, updated := false, 0
	for i := range rows {
		if rows[i].ProductID != productID {
			continue
		}
		if !found {
			previous, found = rows[i].Action, true
		}
		if rows[i].Action != action {
			rows[i].Action = action
			updated++
		}
	}
	if !found {
		return 0, fmt.Errorf("%w: %d", audit.ErrProductNotFound, productID)
	}
	if updated > 0 && restate != nil {
		restate(&job.Stats, previous)
		s.jobs[jobID] = job
	}
	return updated, nil
}

func cloneJob(job audit.Job) audit.Job {
	out := job
	out.Config.CollectionIDs = append([]int64(nil), job.Config.CollectionIDs...)
	if job.Config.UpdatedAfter != nil {
		t := *job.Config.UpdatedAfter
		out.Config.UpdatedAfter = &t
	}
	if job.Started != nil {
		t := *job.Started
		out.Started = &t
	}
	if job.Finished != nil {
		t := *job.Finished
		out.Finished = &t
	}
	return out
}
