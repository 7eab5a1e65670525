package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/dayflow/internal/syncer"
)

// NewSyncCommand returns the sync subcommand.
func NewSyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Reconcile tasks with the external task manager",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run one sync cycle",
				Flags:  []cli.Flag{userFlag()},
				Action: runSyncRun,
			},
			{
				Name:   "status",
				Usage:  "Show sync connection and per-task state",
				Flags:  []cli.Flag{userFlag()},
				Action: runSyncStatus,
			},
			{
				Name:      "resolve",
				Usage:     "Resolve a sync conflict",
				ArgsUsage: "<task_id> <local|external>",
				Flags:     []cli.Flag{userFlag()},
				Action:    runSyncResolve,
			},
		},
		DefaultCommand: "run",
	}
}

func runSyncRun(ctx context.Context, cmd *cli.Command) error {
	app, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Stop()

	report, err := app.SyncTaskManager(ctx, cmd.String("user"))
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	fmt.Printf("Fetched:         %d\n", report.Fetched)
	fmt.Printf("Created local:   %d\n", report.CreatedLocal)
	fmt.Printf("Updated local:   %d\n", report.UpdatedLocal)
	fmt.Printf("Completed local: %d\n", report.CompletedLocal)
	fmt.Printf("Conflicts:       %d\n", report.Conflicts)
	fmt.Printf("Pushed:          %d\n", report.Pushed)
	if report.PushErrors > 0 {
		fmt.Printf("Push errors:     %d\n", report.PushErrors)
	}
	if report.SkippedBackoff > 0 {
		fmt.Printf("In backoff:      %d\n", report.SkippedBackoff)
	}
	for _, e := range report.Errors {
		fmt.Printf("Error: %s\n", e)
	}
	return nil
}

func runSyncStatus(ctx context.Context, cmd *cli.Command) error {
	app, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Stop()

	summary, err := app.SyncStatus(ctx, cmd.String("user"))
	if err != nil {
		return fmt.Errorf("sync status: %w", err)
	}

	connected := "no"
	if summary.Connected {
		connected = "yes"
	}
	fmt.Printf("Connected: %s\n", connected)
	if summary.LastSync != nil {
		fmt.Printf("Last sync: %s\n", summary.LastSync.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Status:    %s\n", summary.SyncStatus)
	for status, count := range summary.StatusCounts {
		fmt.Printf("  %-10s %d\n", status, count)
	}
	return nil
}

func runSyncResolve(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().Get(0)
	choice := cmd.Args().Get(1)
	if taskID == "" || choice == "" {
		return fmt.Errorf("usage: dayflow sync resolve --user <id> <task_id> <local|external>")
	}

	app, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Stop()

	if err := app.ResolveConflict(ctx, cmd.String("user"), taskID, syncer.Resolution(choice)); err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	fmt.Printf("Conflict on %s resolved in favor of %s.\n", taskID, choice)
	return nil
}
