// Package app wires the store, the bot registry, the REST API and the
// scheduler together and runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/botdeck/internal/api"
	"github.com/edgard/botdeck/internal/app/tasks"
	"github.com/edgard/botdeck/internal/config"
	"github.com/edgard/botdeck/internal/database"
	"github.com/edgard/botdeck/internal/discord"
	"github.com/edgard/botdeck/internal/launcher"
	"github.com/edgard/botdeck/internal/runtime"
	"github.com/edgard/botdeck/internal/slack"
	"github.com/edgard/botdeck/internal/telegram"
	"github.com/edgard/botdeck/internal/whatsapp"
)

// App represents the running service and manages its components' lifecycle.
type App struct {
	logger    *slog.Logger
	cfg       *config.Config
	db        *sqlx.DB
	store     database.Store
	registry  *runtime.Registry
	scheduler *Scheduler
	server    *http.Server
}

// Option configures New.
type Option func(*options)

type options struct {
	connector runtime.Connector
}

// WithConnector replaces the platform and process connectors.
func WithConnector(c runtime.Connector) Option {
	return func(o *options) { o.connector = c }
}

// New opens the database and builds every component from cfg.
// Call Close when done.
func New(cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.connector == nil {
		o.connector = NewConnector(cfg.Runtime)
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	store := database.NewStore(db, log)

	registry := runtime.NewRegistry(store, o.connector, log,
		runtime.WithConnectTimeout(cfg.Runtime.ConnectTimeout))

	taskMap := tasks.RegisterAllTasks(tasks.TaskDeps{Logger: log, Store: store, Runtime: registry})
	scheduler, err := NewScheduler(log, &cfg.Scheduler, taskMap)
	if err != nil {
		database.CloseDB(db)
		return nil, err
	}

	gin.SetMode(cfg.HTTP.Mode)
	handler := api.NewHandler(store, registry, log)

	return &App{
		logger:    log.With("component", "app"),
		cfg:       cfg,
		db:        db,
		store:     store,
		registry:  registry,
		scheduler: scheduler,
		server: &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      handler.Routes(),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
	}, nil
}

// NewConnector routes process-mode bots to the launcher and the rest to
// their platform client.
func NewConnector(cfg config.RuntimeConfig) runtime.Connector {
	process := launcher.New(launcher.Config{
		WorkDir:         cfg.WorkDir,
		AllowedCommands: cfg.AllowedCommands,
		EnvAllowlist:    cfg.EnvAllowlist,
		StopGrace:       cfg.StopGrace,
	})

	return runtime.NewRouter(process, map[database.BotType]runtime.Connector{
		database.BotTypeDiscord:  discord.NewConnector(),
		database.BotTypeTelegram: telegram.NewConnector(),
		database.BotTypeSlack:    slack.NewConnector(""),
		database.BotTypeWhatsApp: whatsapp.NewConnector(cfg.WhatsAppAPIURL),
	})
}

// Run binds the HTTP listener, reconciles stale bot state, then serves HTTP and runs the scheduler
// until ctx is cancelled or a component fails. Running bots are stopped
// before it returns.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting application...")

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.server.Addr, err)
	}

	policy := runtime.BootPolicy(a.cfg.Runtime.BootPolicy)
	if err := a.registry.Boot(ctx, policy); err != nil {
		_ = ln.Close()
		a.stopBots(ctx)
		return fmt.Errorf("failed to reconcile bot state: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Error shutting down HTTP server", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	a.logger.Info("Application running. Waiting for shutdown signal or error...")
	err = g.Wait()

	a.stopBots(ctx)

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Application stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Application stopped gracefully.")
	return nil
}

// stopBots drains the registry within runtime.shutdown_timeout.
func (a *App) stopBots(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Runtime.ShutdownTimeout)
	defer cancel()

	if err := a.registry.StopAll(stopCtx); err != nil {
		a.logger.Warn("Some bots did not stop in time", "error", err)
	}
}

// Close releases the database.
func (a *App) Close() {
	database.CloseDB(a.db)
}
