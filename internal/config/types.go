// Package config manages application configuration from environment variables,
// config files, and default values.
package config

import "time"

// Config defines the application configuration. Values can be set via environment
// variables prefixed with BOTDECK_ (e.g., BOTDECK_HTTP_ADDR) or through config.yaml.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `mapstructure:"level"        validate:"required,oneof=debug info warn error"`
	Format     string `mapstructure:"format"       validate:"required,oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"  validate:"min=1"`
	MaxBackups int    `mapstructure:"max_backups"  validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
}

// HTTPConfig holds the REST server settings.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"             validate:"required"`
	Mode            string        `mapstructure:"mode"             validate:"required,oneof=debug release test"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     validate:"min=1s"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    validate:"min=1s"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s,max=5m"`
}

// DatabaseConfig holds the SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// RuntimeConfig controls how registered bots are launched and stopped.
// BootPolicy decides what happens to bots still flagged active from a previous
// process: keep the flags, reset them, or resume the bots.
type RuntimeConfig struct {
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"  validate:"min=1s,max=10m"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s,max=10m"`
	BootPolicy      string        `mapstructure:"boot_policy"      validate:"required,oneof=keep reset resume"`
	WorkDir         string        `mapstructure:"work_dir"`
	AllowedCommands []string      `mapstructure:"allowed_commands" validate:"dive,required"`
	EnvAllowlist    []string      `mapstructure:"env_allowlist"    validate:"dive,required"`
	StopGrace       time.Duration `mapstructure:"stop_grace"       validate:"min=100ms,max=1m"`
	WhatsAppAPIURL  string        `mapstructure:"whatsapp_api_url" validate:"required,url"`
}

// SchedulerConfig holds configuration for scheduled tasks.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig holds configuration for a single scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}
