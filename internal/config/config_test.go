package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"referral_engine/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
logLevel: debug
storage:
  driver: memory
server:
  port: "9090"
rewards:
  mode: rewarded
  referralAmount: 2.5
reconcile:
  interval: 30m
  batchSize: 20
leaderboard:
  cacheTTL: 1m
`)
	t.Setenv("APP_SERVER_HOST", "127.0.0.1")
	t.Setenv("APP_RECONCILE_CONCURRENCY", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
	assert.Equal(t, model.RewardPolicy{Mode: model.RewardImmediate, Amount: 2.5}, cfg.Rewards.Policy())

	assert.Equal(t, 30*time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, 20, cfg.Reconcile.BatchSize)
	assert.Equal(t, 8, cfg.Reconcile.Concurrency)
	assert.Equal(t, 100, cfg.Reconcile.SampleSize)
	assert.Equal(t, 200*time.Millisecond, cfg.Reconcile.RetryDelay)

	svc := cfg.Service()
	assert.Equal(t, time.Minute, svc.LeaderboardCacheTTL)
	assert.Equal(t, 20, svc.Reconcile.BatchSize)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, StoragePostgres, cfg.Storage.Driver)
	assert.Equal(t, "referrals", cfg.Database.Name)
	assert.True(t, cfg.Database.Migrate)
	assert.Equal(t, model.RewardPending, cfg.Rewards.Policy().Mode)
	assert.Equal(t, 5*time.Second, cfg.Leaderboard.StreamInterval)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "storage driver", body: "storage:\n  driver: redis\n"},
		{name: "rewards mode", body: "rewards:\n  mode: bonus\n"},
		{name: "negative amount", body: "rewards:\n  referralAmount: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
