// Package tasks implements the scheduled maintenance tasks.
package tasks

import (
	"context"
	"log/slog"

	"github.com/edgard/botdeck/internal/database"
)

// Runtime is the view of the bot registry the tasks need.
type Runtime interface {
	Running() []string
}

// Store is the part of the record store the tasks use.
type Store interface {
	RunSQLMaintenance(ctx context.Context) error
	ListBots(ctx context.Context, ownerID string) ([]database.Bot, error)
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger  *slog.Logger
	Store   Store
	Runtime Runtime
}
