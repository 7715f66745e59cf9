package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	// Vaultwarden API access. The client credentials come from an admin
	// service account (user API key in the web vault).
	VaultwardenURL string `env:"VAULTWARDEN_URL,required" validate:"required,url"`
	ClientID       string `env:"VAULTWARDEN_CLIENT_ID,required" validate:"required"`
	ClientSecret   string `env:"VAULTWARDEN_CLIENT_SECRET,required" validate:"required"`
	Audience       string `env:"VAULTWARDEN_AUDIENCE"`
	VaultTimeout   int    `env:"VAULT_TIMEOUT_SEC" envDefault:"30" validate:"min=1,max=300"`

	// Run ledger. sqlite needs no extra services and is the default; postgres
	// is for deployments that already run one.
	LedgerDriver string `env:"LEDGER_DRIVER" envDefault:"sqlite" validate:"oneof=sqlite postgres"`
	DatabaseURL  string `env:"DATABASE_URL" validate:"required_if=LedgerDriver postgres"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"data/vwrotation.db"`
	RunHistory   int    `env:"RUN_HISTORY" envDefault:"50" validate:"min=1,max=10000"`

	// Scheduler loop.
	JobsFile      string `env:"JOBS_FILE"`
	TickSec       int    `env:"TICK_SEC" envDefault:"30" validate:"min=1,max=3600"`
	ShutdownGrace int    `env:"SHUTDOWN_GRACE_SEC" envDefault:"10" validate:"min=1,max=600"`
	RunOnce       bool   `env:"ROTATION_RUN_ONCE" envDefault:"false"`
	RetryBaseSec  int    `env:"RETRY_BASE_SEC" envDefault:"30" validate:"min=1"`
	RetryCapSec   int    `env:"RETRY_CAP_SEC" envDefault:"300" validate:"min=1"`
	MaxAttempts   int    `env:"MAX_ATTEMPTS" envDefault:"3" validate:"min=1,max=20"`
	JobTimeoutSec int    `env:"DEFAULT_JOB_TIMEOUT_SEC" envDefault:"300" validate:"min=1"`

	// Rotation policy.
	RotationFrequencyDays int      `env:"ROTATION_FREQUENCY_DAYS" envDefault:"90" validate:"min=1"`
	RotationGraceDays     int      `env:"ROTATION_GRACE_PERIOD_DAYS" envDefault:"5" validate:"min=0"`
	RotationPollSec       int      `env:"ROTATION_POLL_SECONDS" envDefault:"3600" validate:"min=60"`
	RotationCollections   []string `env:"ROTATION_COLLECTIONS"`
	RotationUsers         []string `env:"ROTATION_USERS"`
	RotationDigest        bool     `env:"ROTATION_DIGEST" envDefault:"true"`
	DryRun                bool     `env:"ROTATION_DRY_RUN" envDefault:"false"`
	SubjectPrefix         string   `env:"NOTIFY_SUBJECT_PREFIX" envDefault:"Vaultwarden"`
	MaxBodyLines          int      `env:"NOTIFY_MAX_LINES" envDefault:"50" validate:"min=1"`

	// Vault backup job. Empty cron disables it.
	BackupCron string `env:"BACKUP_CRON"`
	BackupDir  string `env:"BACKUP_DIR" envDefault:"data/backups"`
	BackupKeep int    `env:"BACKUP_KEEP" envDefault:"14" validate:"min=1"`

	// Notifications.
	ResendAPIKey  string   `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom    string   `env:"RESEND_FROM" validate:"required_if=Env production,required_if=Env staging"`
	NotifyTo      []string `env:"NOTIFY_TO"`
	NotifyRateSec float64  `env:"NOTIFY_RATE_PER_SEC" envDefault:"1"`

	// Status API.
	StatusPort  string `env:"STATUS_PORT" envDefault:"8080"`
	StatusToken string `env:"STATUS_TOKEN"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
