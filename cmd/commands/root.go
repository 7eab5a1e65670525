// Package commands holds the dayflow CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/dayflow/internal/config"
	"github.com/dohr-michael/dayflow/internal/core"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "dayflow",
		Usage: "Personal productivity backend: ingest, plan, nudge, sync",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewIngestCommand(),
			NewPlanCommand(),
			NewSyncCommand(),
			NewEnergyCommand(),
			NewTasksCommand(),
			NewRemindersCommand(),
			NewNotificationsCommand(),
			NewStatusCommand(),
		},
	}
}

// loadConfig reads the config file named by the root flag, falling back to
// defaults when it does not exist.
func loadConfig(cmd *cli.Command) *config.Config {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", path, "error", err)
		cfg = config.Default()
	}
	return cfg
}

func setupLogging(cmd *cli.Command) {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
}

// buildApp assembles the App for a one-shot command. The caller owns Stop.
func buildApp(ctx context.Context, cmd *cli.Command) (*core.App, error) {
	setupLogging(cmd)
	cfg := loadConfig(cmd)
	app, err := core.New(ctx, cfg, core.Options{})
	if err != nil {
		return nil, fmt.Errorf("init app: %w", err)
	}
	return app, nil
}
