package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
	"github.com/JakeFAU/metafield-link-auditor/internal/config"
	"github.com/JakeFAU/metafield-link-auditor/internal/job"
)

func testConfig() config.Config {
	dry := true
	return config.Config{
		Catalog: config.CatalogConfig{APIVersion: "2024-10"},
		Job: config.JobDefaults{
			Status:          "active",
			BatchSize:       100,
			Concurrency:     10,
			Timeout:         8 * time.Second,
			FollowRedirects: true,
			MaxRedirects:    5,
			BrokenAction:    "hide",
		},
		Presets: map[string]config.JobPreset{
			"nightly": {Shop: "demo.myshopify.com", Namespace: "custom", Key: "links", DryRun: &dry},
		},
	}
}

func TestRunFlagsLayerOverDefaults(t *testing.T) {
	t.Parallel()
	f := &runFlags{}
	cmd := newRunCmdWith(f)
	require.NoError(t, cmd.ParseFlags([]string{
		"--shop", "demo.myshopify.com",
		"--token", "shpat_x",
		"--namespace", "custom",
		"--key", "links",
		"--collection", "11", "--collection", "12",
		"--concurrency", "3",
		"--action", "archive",
		"--updated-after", "2025-01-02T03:04:05Z",
	}))

	jc, err := f.jobConfig(cmd, testConfig())
	require.NoError(t, err)
	assert.Equal(t, "demo.myshopify.com", jc.Shop)
	assert.Equal(t, []int64{11, 12}, jc.CollectionIDs)
	assert.Equal(t, 100, jc.BatchSize)
	assert.Equal(t, 3, jc.Concurrency)
	assert.Equal(t, audit.ActionArchive, jc.BrokenAction)
	assert.True(t, jc.FollowRedirects)
	require.NotNil(t, jc.UpdatedAfter)
	assert.Equal(t, 2025, jc.UpdatedAfter.Year())
}

func TestRunFlagsPreset(t *testing.T) {
	t.Parallel()
	f := &runFlags{}
	cmd := newRunCmdWith(f)
	require.NoError(t, cmd.ParseFlags([]string{"--preset", "nightly", "--token", "t", "--dry-run=false"}))

	jc, err := f.jobConfig(cmd, testConfig())
	require.NoError(t, err)
	assert.Equal(t, "custom.links", jc.Metafield())
	assert.False(t, jc.DryRun)

	require.NoError(t, cmd.ParseFlags([]string{"--preset", "missing"}))
	_, err = f.jobConfig(cmd, testConfig())
	require.Error(t, err)
}

func TestRunFlagsRejectInvalid(t *testing.T) {
	t.Parallel()
	f := &runFlags{}
	cmd := newRunCmdWith(f)
	require.NoError(t, cmd.ParseFlags([]string{"--shop", "s", "--token", "t", "--namespace", "n", "--key", "k", "--updated-after", "yesterday"}))
	_, err := f.jobConfig(cmd, testConfig())
	require.ErrorContains(t, err, "updated-after")

	f = &runFlags{}
	cmd = newRunCmdWith(f)
	require.NoError(t, cmd.ParseFlags([]string{"--shop", "s", "--token", "t", "--namespace", "n", "--key", "k", "--batch-size", "500"}))
	_, err = f.jobConfig(cmd, testConfig())
	require.ErrorContains(t, err, "BatchSize")
}

func TestWriteSummary(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	out := job.Outcome{
		Status:      audit.JobStatusFailed,
		Stats:       audit.JobStats{Processed: 4, BrokenURLCount: 1},
		ResumeToken: "tok",
	}
	require.NoError(t, writeSummary(&buf, "job-1", out, errors.New("list products: boom")))

	var got runSummary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, audit.JobStatusFailed, got.Status)
	assert.Equal(t, 4, got.Stats.Processed)
	assert.Equal(t, "tok", got.ResumeToken)
	assert.Equal(t, "list products: boom", got.Error)
}
