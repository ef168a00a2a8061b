package config

import "time"

// Default values for configuration
const (
	// Log defaults
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultLogMaxSizeMB  = 50
	DefaultLogMaxBackups = 5
	DefaultLogMaxAgeDays = 28

	// HTTP defaults
	DefaultHTTPAddr            = ":5000"
	DefaultHTTPMode            = "release"
	DefaultHTTPReadTimeout     = 15 * time.Second
	DefaultHTTPWriteTimeout    = 30 * time.Second
	DefaultHTTPShutdownTimeout = 10 * time.Second

	// Database defaults
	DefaultDBPath = "storage.db"

	// Runtime defaults
	DefaultRuntimeConnectTimeout  = 30 * time.Second
	DefaultRuntimeShutdownTimeout = 20 * time.Second
	DefaultRuntimeBootPolicy      = "keep"
	DefaultRuntimeStopGrace       = 5 * time.Second
	DefaultWhatsAppAPIURL         = "https://graph.facebook.com/v20.0"
)

// Default executables a process-mode bot may run.
var DefaultAllowedCommands = []string{"node", "python3"}

// Default host environment variables passed through to child processes.
var DefaultEnvAllowlist = []string{"PATH", "HOME", "LANG", "TZ"}

// Default scheduled tasks. Keys match the task registry.
var DefaultTasks = map[string]TaskConfig{
	"sql_maintenance":    {Enabled: true, Schedule: "0 0 3 * * 0"},
	"active_state_audit": {Enabled: true, Schedule: "0 */10 * * * *"},
}
