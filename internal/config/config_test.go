package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestDefaultsMatchCampaignSettings(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 20, cfg.DailyFollowLimit)
	assert.Equal(t, []string{"bsky", "sky"}, cfg.RequiredTerms)
	assert.Equal(t, 5*24*time.Hour, cfg.UnfollowAfter())

	lo, hi := cfg.DelayRange()
	assert.Equal(t, time.Minute, lo)
	assert.Equal(t, 4320*time.Second, hi)
	assert.Equal(t, time.Hour, cfg.ApprovalTimeout)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"BLUESKY_HANDLE":         "bot.bsky.social",
		"BLUESKY_PASSWORD":       "app-pass",
		"DAILY_FOLLOW_LIMIT":     "7",
		"REQUIRED_TERMS":         " Sky, ,ART ",
		"EXCLUDE_UNFOLLOWED":     "true",
		"API_RATE_PER_SEC":       "0.5",
		"WORKER_RESTART_BACKOFF": "1m",
		"APPROVAL_TIMEOUT":       "15m",
	}))
	require.NoError(t, err)

	assert.Equal(t, "bot.bsky.social", cfg.Handle)
	assert.Equal(t, 7, cfg.DailyFollowLimit)
	assert.Equal(t, []string{"sky", "art"}, cfg.RequiredTerms)
	assert.True(t, cfg.ExcludeUnfollowed)
	assert.Equal(t, 0.5, cfg.APIRatePerSec)
	assert.Equal(t, time.Minute, cfg.WorkerRestartBackoff)
	assert.Equal(t, 15*time.Minute, cfg.ApprovalTimeout)
	require.NoError(t, cfg.RequireCredentials())
}

func TestApplyEnvReportsBadNumbers(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"DAILY_FOLLOW_LIMIT": "lots",
		"FOLLOW_DELAY_MAX":   "x",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DAILY_FOLLOW_LIMIT")
	assert.Contains(t, err.Error(), "FOLLOW_DELAY_MAX")
}

func TestYAMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	body := "daily_follow_limit: 3\nrequired_terms: [art]\npost_timezone: UTC\nworker_restart_backoff: 30s\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	t.Setenv(ConfigFileEnv, path)
	t.Setenv("DAILY_FOLLOW_LIMIT", "4")
	t.Setenv("BLUESKY_HANDLE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.DailyFollowLimit)
	assert.Equal(t, []string{"art"}, cfg.RequiredTerms)
	assert.Equal(t, 30*time.Second, cfg.WorkerRestartBackoff)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero limit", mutate: func(c *Config) { c.DailyFollowLimit = 0 }, wantErr: true},
		{name: "inverted delays", mutate: func(c *Config) { c.FollowDelayMin = 10; c.FollowDelayMax = 5 }, wantErr: true},
		{name: "no terms", mutate: func(c *Config) { c.RequiredTerms = nil }, wantErr: true},
		{name: "equal delays", mutate: func(c *Config) { c.FollowDelayMin = 5; c.FollowDelayMax = 5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequireCredentialsNamesMissingVars(t *testing.T) {
	err := Default().RequireCredentials()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BLUESKY_HANDLE")
	assert.Contains(t, err.Error(), "BLUESKY_PASSWORD")
}
