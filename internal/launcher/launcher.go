// Package launcher runs process-mode bots as isolated child processes.
//
// Each bot gets a fresh working directory holding its files, a whitelisted
// executable and an environment built from an explicit allowlist. The token
// reaches the child only through the BOT_TOKEN variable.
package launcher

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	apperrors "github.com/edgard/botdeck/internal/errors"
	"github.com/edgard/botdeck/internal/runtime"
)

// DefaultStopGrace is how long a child gets between SIGTERM and SIGKILL.
const DefaultStopGrace = 5 * time.Second

// Config controls what child processes may do.
type Config struct {
	WorkDir         string
	AllowedCommands []string
	EnvAllowlist    []string
	StopGrace       time.Duration
}

// Launcher implements runtime.Connector for process-mode bots.
type Launcher struct {
	cfg Config
}

// New creates a Launcher. An empty WorkDir uses the OS temp dir.
func New(cfg Config) *Launcher {
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	return &Launcher{cfg: cfg}
}

// Connect materializes the bot's files and starts its process.
func (l *Launcher) Connect(ctx context.Context, spec runtime.LaunchSpec) (runtime.Connection, error) {
	if spec.Manifest == nil || spec.Manifest.Process == nil {
		return nil, apperrors.NewValidationError("bot is not a process-mode bot", nil)
	}
	proc := spec.Manifest.Process

	if !slices.Contains(l.cfg.AllowedCommands, proc.Command) {
		return nil, apperrors.NewValidationError("command "+proc.Command+" is not allowed", nil)
	}
	path, err := exec.LookPath(proc.Command)
	if err != nil {
		return nil, apperrors.NewRuntimeError("command "+proc.Command+" not found", err)
	}

	if err := os.MkdirAll(l.cfg.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	dir, err := os.MkdirTemp(l.cfg.WorkDir, "bot-"+spec.BotID+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create bot dir: %w", err)
	}
	if err := writeFiles(dir, spec.Files); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	log := spec.Logger.With("mode", "process", "command", proc.Command)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(runCtx, path, proc.Args...)
	cmd.Dir = dir
	cmd.Env = l.environ(spec)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = l.cfg.StopGrace

	stdout := newLineLogger(log, "stdout")
	stderr := newLineLogger(log, "stderr")
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		_ = os.RemoveAll(dir)
		return nil, apperrors.NewRuntimeError("failed to start bot process", err)
	}
	log.InfoContext(ctx, "Bot process started", "pid", cmd.Process.Pid, "dir", dir)

	conn := &connection{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(conn.done)
		err := cmd.Wait()
		stdout.Flush()
		stderr.Flush()
		if err != nil && runCtx.Err() == nil {
			log.Warn("Bot process exited", "error", err)
		} else {
			log.Info("Bot process exited", "exit_code", cmd.ProcessState.ExitCode())
		}
		if err := os.RemoveAll(dir); err != nil {
			log.Error("Failed to remove bot dir", "dir", dir, "error", err)
		}
	}()

	return conn, nil
}

// environ returns the allowlisted host variables, the manifest's variables
// and the BOT_* variables, in that order.
func (l *Launcher) environ(spec runtime.LaunchSpec) []string {
	var env []string
	for _, name := range l.cfg.EnvAllowlist {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}

	extra := spec.Manifest.Process.Env
	for _, name := range slices.Sorted(maps.Keys(extra)) {
		env = append(env, name+"="+extra[name])
	}

	return append(env,
		"BOT_ID="+spec.BotID,
		"BOT_NAME="+spec.Name,
		"BOT_TYPE="+string(spec.Type),
		"BOT_TOKEN="+spec.Token,
	)
}

func writeFiles(dir string, files map[string]string) error {
	for name, content := range files {
		if !filepath.IsLocal(name) {
			return apperrors.NewValidationError("file name "+name+" escapes the bot directory", nil)
		}
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("failed to create dir for %s: %w", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

type connection struct {
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// Disconnect sends SIGTERM and waits for the process to exit. The process is
// killed once the stop grace period runs out.
func (c *connection) Disconnect(ctx context.Context) error {
	c.once.Do(c.cancel)

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done implements runtime.Watcher.
func (c *connection) Done() <-chan struct{} {
	return c.done
}
