package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() JobConfig {
	cfg := DefaultJobConfig()
	cfg.Shop = "shop.myshopify.com"
	cfg.Token = "shpat_xxx"
	cfg.Namespace = "custom"
	cfg.Key = "video_url"
	return cfg
}

func TestDefaultJobConfig(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 250, cfg.BatchSize)
	require.Equal(t, 20, cfg.Concurrency)
	require.Equal(t, StatusActive, cfg.Status)
	require.Equal(t, ActionHide, cfg.BrokenAction)
	require.Equal(t, 8*time.Second, cfg.Timeout)
	require.True(t, cfg.FollowRedirects)
	require.Equal(t, "custom.video_url", cfg.Metafield())
}

func TestJobConfigValidateBounds(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*JobConfig){
		"batch too large":       func(c *JobConfig) { c.BatchSize = 300 },
		"batch negative":        func(c *JobConfig) { c.BatchSize = -1 },
		"concurrency too large": func(c *JobConfig) { c.Concurrency = 101 },
		"timeout too small":     func(c *JobConfig) { c.Timeout = 10 * time.Millisecond },
		"timeout too large":     func(c *JobConfig) { c.Timeout = 2 * time.Minute },
		"unknown status":        func(c *JobConfig) { c.Status = "deleted" },
		"unknown action":        func(c *JobConfig) { c.BrokenAction = "delete" },
		"missing namespace":     func(c *JobConfig) { c.Namespace = "" },
		"missing token":         func(c *JobConfig) { c.Token = "" },
		"bad collection id":     func(c *JobConfig) { c.CollectionIDs = []int64{12, 0} },
		"too many redirects":    func(c *JobConfig) { c.MaxRedirects = 50 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestJobConfigAcceptsUpperBounds(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.BatchSize = 250
	cfg.Concurrency = 100
	cfg.Timeout = time.Minute
	cfg.CollectionIDs = []int64{123, 456}
	cfg.DryRun = true
	cfg.AutoAction = true
	require.NoError(t, cfg.Validate())
}

func TestStatusHelpers(t *testing.T) {
	t.Parallel()

	require.True(t, LinkBrokenDNS.IsBroken())
	require.False(t, LinkRedirectedOK.IsBroken())
	require.False(t, LinkNoURL.IsBroken())
	require.False(t, LinkUnchecked.IsBroken())
	require.True(t, StatusDraft.Hidden())
	require.True(t, StatusArchived.Hidden())
	require.False(t, StatusActive.Hidden())

	target, ok := ActionArchive.TargetStatus()
	require.True(t, ok)
	require.Equal(t, StatusArchived, target)
	_, ok = ActionIgnore.TargetStatus()
	require.False(t, ok)
}
