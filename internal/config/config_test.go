package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"allais-survey-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
server:
  port: "9090"
  duplicate_status_conflict: true
redis:
  addr: localhost:6379
  ttl: 2m
experiment:
  default_id: pilot
  seed:
    id: pilot
    title: Pilot
    status: active
    target_sample_size: 40
    budget:
      total: 100
      reward_per_participant: 2
    quality_controls:
      time_limit: 30m
      minimum_completion_time: 90s
      attention_check_answer: 7
quality:
  strict_ids: true
analysis:
  legacy_approximations: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.True(t, cfg.Server.DuplicateStatusConflict)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2*time.Minute, TTLDuration(cfg.Redis.TTL, time.Minute))
	assert.True(t, cfg.Quality.StrictIDs)
	assert.True(t, cfg.Analysis.LegacyApproximations)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NotNil(t, cfg.Experiment.Seed)

	now := time.Date(2024, 11, 22, 0, 0, 0, 0, time.UTC)
	exp := cfg.Experiment.Seed.Experiment(now)
	assert.Equal(t, "pilot", exp.ID)
	assert.Equal(t, domain.StatusActive, exp.Status)
	assert.Equal(t, "1.0.0", exp.Version)
	assert.Equal(t, 40, exp.TargetSampleSize)
	assert.Equal(t, 2.0, exp.Budget.RewardPerParticipant)
	assert.Equal(t, int64(1_800_000), exp.QualityControls.TimeLimitMs)
	assert.Equal(t, int64(90_000), exp.QualityControls.MinimumCompletionMs)
	assert.Equal(t, 7, exp.QualityControls.AttentionCheckAnswer)
	assert.Equal(t, now, exp.CreatedAt)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestSeedUnknownStatusIsDraft(t *testing.T) {
	exp := SeedExperiment{ID: "x", Status: "running"}.Experiment(time.Now())
	assert.Equal(t, domain.StatusDraft, exp.Status)
}

func TestTTLDuration(t *testing.T) {
	assert.Equal(t, time.Minute, TTLDuration("", time.Minute))
	assert.Equal(t, time.Minute, TTLDuration("soon", time.Minute))
	assert.Equal(t, 90*time.Second, TTLDuration("90s", time.Minute))
}

func TestInitLogger(t *testing.T) {
	assert.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.Error(t, InitLogger(LogConfig{Level: "loud"}))
}
