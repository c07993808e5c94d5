package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.False(t, cfg.Extraction.UseNewExtractor)
	require.False(t, cfg.Extraction.ShadowMode)
	require.Equal(t, 0, cfg.Extraction.RolloutPercent)
	require.Equal(t, "jobs", cfg.Extraction.JobsTable)
	require.Equal(t, 60, cfg.Monitor.WindowMinutes)
	require.Equal(t, 5.0, cfg.Monitor.ThresholdPercent)
	require.Equal(t, 10, cfg.Monitor.MinSample)
	require.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	require.Equal(t, 5, cfg.Crawler.AutoPauseFailures)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EXTRACTION_USE_NEW_EXTRACTOR", "true")
	t.Setenv("EXTRACTION_SHADOW_MODE", "true")
	t.Setenv("EXTRACTION_ROLLOUT_PERCENT", "25")
	t.Setenv("JOBS_TABLE", "jobs_side")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	require.True(t, cfg.Extraction.UseNewExtractor)
	require.True(t, cfg.Extraction.ShadowMode)
	require.Equal(t, 25, cfg.Extraction.RolloutPercent)
	require.Equal(t, "jobs_side", cfg.Extraction.JobsTable)
	require.Equal(t, 9090, cfg.Server.Port)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"rollout over 100", func(c *Config) { c.Extraction.RolloutPercent = 101 }},
		{"rollout negative", func(c *Config) { c.Extraction.RolloutPercent = -1 }},
		{"empty jobs table", func(c *Config) { c.Extraction.JobsTable = "" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown storage provider", func(c *Config) { c.Storage.Provider = "s3" }},
		{"gcs without bucket", func(c *Config) { c.Storage.Provider = "gcs"; c.Storage.GCSBucket = "" }},
		{"zero min sample", func(c *Config) { c.Monitor.MinSample = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(t.TempDir())
			require.NoError(t, err)
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
