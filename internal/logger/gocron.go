package logger

import (
	"log/slog"

	"github.com/go-co-op/gocron/v2"
)

// gocronLogger implements gocron.Logger on top of slog.
type gocronLogger struct {
	log *slog.Logger
}

// NewGocronLogger returns a logger that implements gocron.Logger interface.
//
//nolint:ireturn // Interface return is required by gocron's API contract
func NewGocronLogger(log *slog.Logger) gocron.Logger {
	return &gocronLogger{log: log.With("component", "gocron")}
}

func (l *gocronLogger) Debug(msg string, args ...any) { l.log.Debug(msg, args...) }

func (l *gocronLogger) Error(msg string, args ...any) { l.log.Error(msg, args...) }

func (l *gocronLogger) Info(msg string, args ...any) { l.log.Info(msg, args...) }

func (l *gocronLogger) Warn(msg string, args ...any) { l.log.Warn(msg, args...) }
