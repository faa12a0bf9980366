package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := audit.Job{
		ID:        "job-1",
		Status:    audit.JobStatusPending,
		Config:    audit.JobConfig{Shop: "demo.myshopify.com", CollectionIDs: []int64{1, 2}},
		Submitted: time.Now().UTC(),
	}

	require.NoError(t, store.CreateJob(ctx, job))
	require.ErrorIs(t, store.CreateJob(ctx, job), audit.ErrJobExists)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	got.Config.CollectionIDs[0] = 99
	again, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Config.CollectionIDs[0], "GetJob must return a copy")

	started := time.Now().UTC()
	got.Status = audit.JobStatusRunning
	got.Started = &started
	got.Stats.Processed = 3
	require.NoError(t, store.UpdateJob(ctx, got))

	final, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.JobStatusRunning, final.Status)
	assert.Equal(t, 3, final.Stats.Processed)
	require.NotNil(t, final.Started)

	_, err = store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, audit.ErrJobNotFound)
	require.ErrorIs(t, store.UpdateJob(ctx, audit.Job{ID: "missing"}), audit.ErrJobNotFound)
}

func TestJobStoreResults(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, audit.Job{ID: "job-1"}))

	rows := []audit.CheckResult{
		{ProductID: 1, Action: audit.ActionTypeNoAction},
		{ProductID: 2, Action: audit.ActionTypePendingReview},
		{ProductID: 2, Action: audit.ActionTypePendingReview},
	}
	require.NoError(t, store.AppendResults(ctx, "job-1", rows[:1]))
	require.NoError(t, store.AppendResults(ctx, "job-1", rows[1:]))
	require.ErrorIs(t, store.AppendResults(ctx, "nope", rows), audit.ErrJobNotFound)

	listed, err := store.ListResults(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	listed[0].Action = audit.ActionTypeError

	var previous []audit.ActionType
	bump := func(stats *audit.JobStats, prev audit.ActionType) {
		previous = append(previous, prev)
		stats.DraftedCount++
	}
	n, err := store.SetProductAction(ctx, "job-1", 2, audit.ActionTypeHidden, bump)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []audit.ActionType{audit.ActionTypePendingReview}, previous)

	n, err = store.SetProductAction(ctx, "job-1", 2, audit.ActionTypeHidden, bump)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, previous, 1, "unchanged rows must not restate counters")

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, job.Stats.DraftedCount)

	listed, err = store.ListResults(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, audit.ActionTypeNoAction, listed[0].Action)
	assert.Equal(t, audit.ActionTypeHidden, listed[1].Action)
	assert.Equal(t, audit.ActionTypeHidden, listed[2].Action)

	_, err = store.SetProductAction(ctx, "job-1", 42, audit.ActionTypeHidden, nil)
	require.ErrorIs(t, err, audit.ErrProductNotFound)
	_, err = store.ListResults(ctx, "nope")
	require.ErrorIs(t, err, audit.ErrJobNotFound)
}

func TestJobStoreListNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateJob(ctx, audit.Job{ID: id, Submitted: base.Add(time.Duration(i) * time.Minute)}))
	}

	jobs, err := store.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{jobs[0].ID, jobs[1].ID, jobs[2].ID})
}
