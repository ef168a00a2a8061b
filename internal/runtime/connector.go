// Package runtime keeps the live bot connections of this process and the
// persisted active flag of each bot in step.
package runtime

import (
	"context"
	"log/slog"

	"github.com/edgard/botdeck/internal/database"
	"github.com/edgard/botdeck/internal/manifest"
)

// LaunchSpec is the validated configuration a Connector receives.
// The token is only ever passed as this field.
type LaunchSpec struct {
	BotID    string
	Name     string
	Type     database.BotType
	Token    string
	Files    map[string]string
	Manifest *manifest.Manifest
	Logger   *slog.Logger
}

// Connector opens a live connection for a bot.
type Connector interface {
	Connect(ctx context.Context, spec LaunchSpec) (Connection, error)
}

// Connection is a live bot session.
type Connection interface {
	Disconnect(ctx context.Context) error
}

// Watcher is implemented by connections that can end on their own.
// Done is closed once the connection is gone.
type Watcher interface {
	Done() <-chan struct{}
}

// WebhookReceiver is implemented by connections fed by inbound platform
// callbacks instead of a persistent socket.
type WebhookReceiver interface {
	HandleWebhook(ctx context.Context, payload []byte) error
}

// Store is the part of the record store the registry depends on.
type Store interface {
	GetBot(ctx context.Context, id string) (*database.Bot, error)
	ListBots(ctx context.Context, ownerID string) ([]database.Bot, error)
	SetBotActive(ctx context.Context, id string, active bool) error
}
