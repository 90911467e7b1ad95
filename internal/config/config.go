package config

import (
	"os"
	"time"

	"allais-survey-service/internal/domain"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`

		// DuplicateStatusConflict answers duplicates with 409 instead of a 200 envelope.
		DuplicateStatusConflict bool     `yaml:"duplicate_status_conflict"`
		AllowedOrigins          []string `yaml:"allowed_origins"`
		SubmitRate              float64  `yaml:"submit_rate"`
		SubmitBurst             int      `yaml:"submit_burst"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
		LockTTL  string `yaml:"lock_ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Experiment ExperimentConfig `yaml:"experiment"`
	Quality    struct {
		StrictIDs bool `yaml:"strict_ids"`
	} `yaml:"quality"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Log      LogConfig      `yaml:"log"`
}

// ExperimentConfig controls experiment lookup and the experiment seeded at startup.
type ExperimentConfig struct {
	TTL       string          `yaml:"ttl"`
	DefaultID string          `yaml:"default_id"`
	Seed      *SeedExperiment `yaml:"seed"`
}

// SeedExperiment is inserted at startup unless an experiment with its id already exists.
type SeedExperiment struct {
	ID               string `yaml:"id"`
	Title            string `yaml:"title"`
	Description      string `yaml:"description"`
	Version          string `yaml:"version"`
	Status           string `yaml:"status"`
	TargetSampleSize int    `yaml:"target_sample_size"`
	Budget           struct {
		Total                float64 `yaml:"total"`
		Spent                float64 `yaml:"spent"`
		RewardPerParticipant float64 `yaml:"reward_per_participant"`
		EstimatedFees        float64 `yaml:"estimated_fees"`
	} `yaml:"budget"`
	QualityControls struct {
		TimeLimit              string `yaml:"time_limit"`
		MinimumCompletionTime  string `yaml:"minimum_completion_time"`
		AttentionCheckRequired bool   `yaml:"attention_check_required"`
		AttentionCheckAnswer   int    `yaml:"attention_check_answer"`
	} `yaml:"quality_controls"`
}

// Experiment converts the seed into a domain experiment created at now.
func (s SeedExperiment) Experiment(now time.Time) domain.Experiment {
	status := domain.ExperimentStatus(s.Status)
	if !domain.ValidStatus(status) {
		status = domain.StatusDraft
	}
	version := s.Version
	if version == "" {
		version = "1.0.0"
	}
	return domain.Experiment{
		ID:               s.ID,
		Title:            s.Title,
		Description:      s.Description,
		Version:          version,
		Status:           status,
		TargetSampleSize: s.TargetSampleSize,
		Budget: domain.Budget{
			Total:                s.Budget.Total,
			Spent:                s.Budget.Spent,
			RewardPerParticipant: s.Budget.RewardPerParticipant,
			EstimatedFees:        s.Budget.EstimatedFees,
		},
		QualityControls: domain.QualityControls{
			TimeLimitMs:            TTLDuration(s.QualityControls.TimeLimit, 0).Milliseconds(),
			MinimumCompletionMs:    TTLDuration(s.QualityControls.MinimumCompletionTime, 0).Milliseconds(),
			AttentionCheckRequired: s.QualityControls.AttentionCheckRequired,
			AttentionCheckAnswer:   s.QualityControls.AttentionCheckAnswer,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

type AnalysisConfig struct {
	AssumedEffectSize    float64 `yaml:"assumed_effect_size"`
	PowerThreshold       int     `yaml:"power_threshold"`
	Alpha                float64 `yaml:"alpha"`
	TargetPower          float64 `yaml:"target_power"`
	LegacyApproximations bool    `yaml:"legacy_approximations"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, eris.Wrapf(err, "config: parse %s", path)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// InitLogger builds the global zap logger from cfg.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
