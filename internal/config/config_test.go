package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 600, cfg.Limits.RequestsPerHour)
	require.Equal(t, 50, cfg.Serp.PageSize)
	require.Equal(t, 4, cfg.Scheduler.Workers)
	require.Equal(t, 100, cfg.Scheduler.MaxTrackedPosition)
	require.Equal(t, 10*time.Second, cfg.FetchTimeout())
	require.Equal(t, 5*time.Minute, cfg.Cooldown())
	require.Equal(t, 7*24*time.Hour, cfg.VolumeStaleness())
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
server:
  port: 9090
limits:
  requests_per_hour: 120
  burst: 2
scheduler:
  workers: 8
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 120, cfg.Limits.RequestsPerHour)
	require.Equal(t, 2, cfg.Limits.Burst)
	require.Equal(t, 8, cfg.Scheduler.Workers)
	// Untouched keys keep defaults.
	require.Equal(t, "ios", cfg.Serp.Platform)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Server.Port = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Cluster.SimilarityThreshold = 1.5
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Auth.Enabled = true
	bad.Auth.APIKey = ""
	require.Error(t, bad.Validate())
}

func TestJobTimeoutScalesWithCandidates(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 300*time.Second, cfg.JobTimeout(10))
	require.Equal(t, 30*time.Second, cfg.JobTimeout(0))
}
