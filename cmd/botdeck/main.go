// Package main contains the entrypoint for the botdeck service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edgard/botdeck/internal/app"
	"github.com/edgard/botdeck/internal/config"
	"github.com/edgard/botdeck/internal/database"
	"github.com/edgard/botdeck/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API, the bot runtime and the scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	root := &cobra.Command{
		Use:   "botdeck",
		Short: "botdeck - dashboard backend for messaging bots",
		Long: `botdeck stores bot and project records behind a REST API and runs
the registered bots against Discord, Telegram, Slack and WhatsApp.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "./config.yaml", "path to configuration file")

	root.AddCommand(serve, &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runMigrate(configPath)
		},
	})

	return root
}

// setup loads the configuration and installs the default logger.
func setup(configPath string) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	log, closer := logger.NewLogger(cfg.Log)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	return cfg, log, func() { _ = closer.Close() }, nil
}

func runServe(ctx context.Context, configPath string) error {
	cfg, log, closeLog, err := setup(configPath)
	if err != nil {
		return err
	}
	defer closeLog()

	a, err := app.New(cfg, log)
	if err != nil {
		log.Error("Failed to initialize application", "error", err)
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}

func runMigrate(configPath string) error {
	cfg, log, closeLog, err := setup(configPath)
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to apply migrations", "path", cfg.Database.Path, "error", err)
		return err
	}
	database.CloseDB(db)

	log.Info("Migrations applied", "path", cfg.Database.Path)
	return nil
}
