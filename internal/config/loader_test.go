package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/edgard/botdeck/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTP.Addr)
	assert.Equal(t, DefaultDBPath, cfg.Database.Path)
	assert.Equal(t, DefaultRuntimeConnectTimeout, cfg.Runtime.ConnectTimeout)
	assert.Equal(t, "keep", cfg.Runtime.BootPolicy)
	assert.Equal(t, DefaultAllowedCommands, cfg.Runtime.AllowedCommands)
	require.Contains(t, cfg.Scheduler.Tasks, "sql_maintenance")
	assert.True(t, cfg.Scheduler.Tasks["active_state_audit"].Enabled)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: text
http:
  addr: "127.0.0.1:8080"
  shutdown_timeout: 3s
database:
  path: /tmp/bots.db
runtime:
  boot_policy: resume
  allowed_commands: [node]
scheduler:
  tasks:
    sql_maintenance:
      enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Addr)
	assert.Equal(t, 3*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "/tmp/bots.db", cfg.Database.Path)
	assert.Equal(t, "resume", cfg.Runtime.BootPolicy)
	assert.Equal(t, []string{"node"}, cfg.Runtime.AllowedCommands)
	assert.False(t, cfg.Scheduler.Tasks["sql_maintenance"].Enabled)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("BOTDECK_HTTP_ADDR", ":9999")
	t.Setenv("BOTDECK_RUNTIME_BOOT_POLICY", "reset")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, "reset", cfg.Runtime.BootPolicy)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"bad log level":   "log:\n  level: verbose\n",
		"bad boot policy": "runtime:\n  boot_policy: always\n",
		"bad http mode":   "http:\n  mode: staging\n",
		"enabled task without schedule": `
scheduler:
  tasks:
    nightly:
      enabled: true
`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeConfig, apperrors.Code(err))
		})
	}
}
