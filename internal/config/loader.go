package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	apperrors "github.com/edgard/botdeck/internal/errors"
)

// EnvPrefix is the prefix of environment variables overriding config keys.
const EnvPrefix = "BOTDECK"

// Load loads and validates configuration from:
// 1. Default values
// 2. the YAML file at path (optional; a missing file is not an error)
// 3. BOTDECK_* environment variables
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := readConfig(v, path); err != nil {
		return nil, apperrors.NewConfigError("failed to load config file", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to parse config", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return apperrors.NewConfigError("invalid configuration", err)
	}
	return nil
}

// readConfig points viper at the config file and the environment.
func readConfig(v *viper.Viper, path string) error {
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			// Config file not found is okay, we'll use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// setDefaults sets default values for optional configuration parameters
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", DefaultLogMaxSizeMB)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age_days", DefaultLogMaxAgeDays)

	// HTTP defaults
	v.SetDefault("http.addr", DefaultHTTPAddr)
	v.SetDefault("http.mode", DefaultHTTPMode)
	v.SetDefault("http.read_timeout", DefaultHTTPReadTimeout)
	v.SetDefault("http.write_timeout", DefaultHTTPWriteTimeout)
	v.SetDefault("http.shutdown_timeout", DefaultHTTPShutdownTimeout)

	// Database defaults
	v.SetDefault("database.path", DefaultDBPath)

	// Runtime defaults
	v.SetDefault("runtime.connect_timeout", DefaultRuntimeConnectTimeout)
	v.SetDefault("runtime.shutdown_timeout", DefaultRuntimeShutdownTimeout)
	v.SetDefault("runtime.boot_policy", DefaultRuntimeBootPolicy)
	v.SetDefault("runtime.work_dir", "")
	v.SetDefault("runtime.allowed_commands", DefaultAllowedCommands)
	v.SetDefault("runtime.env_allowlist", DefaultEnvAllowlist)
	v.SetDefault("runtime.stop_grace", DefaultRuntimeStopGrace)
	v.SetDefault("runtime.whatsapp_api_url", DefaultWhatsAppAPIURL)

	// Scheduler defaults
	for name, task := range DefaultTasks {
		v.SetDefault("scheduler.tasks."+name+".enabled", task.Enabled)
		v.SetDefault("scheduler.tasks."+name+".schedule", task.Schedule)
	}
}
