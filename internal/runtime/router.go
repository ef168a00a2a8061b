package runtime

import (
	"context"

	"github.com/edgard/botdeck/internal/database"
	apperrors "github.com/edgard/botdeck/internal/errors"
	"github.com/edgard/botdeck/internal/manifest"
)

// Router dispatches a launch to the process launcher or to the connector
// registered for the bot's platform.
type Router struct {
	process   Connector
	platforms map[database.BotType]Connector
}

// NewRouter creates a Router. process may be nil to disable process mode.
func NewRouter(process Connector, platforms map[database.BotType]Connector) *Router {
	if platforms == nil {
		platforms = map[database.BotType]Connector{}
	}
	return &Router{process: process, platforms: platforms}
}

// Connect implements Connector.
func (r *Router) Connect(ctx context.Context, spec LaunchSpec) (Connection, error) {
	if spec.Manifest != nil && spec.Manifest.Mode == manifest.ModeProcess {
		if r.process == nil {
			return nil, apperrors.NewRuntimeError("process mode is not available", nil)
		}
		return r.process.Connect(ctx, spec)
	}

	connector, ok := r.platforms[spec.Type]
	if !ok {
		return nil, apperrors.NewRuntimeError("no connector for bot type "+string(spec.Type), nil)
	}
	return connector.Connect(ctx, spec)
}
