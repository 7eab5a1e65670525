package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/dayflow/internal/domain"
)

func userFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "user",
		Aliases:  []string{"u"},
		Usage:    "User identifier",
		Required: true,
	}
}

// NewIngestCommand returns the ingest subcommand.
func NewIngestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Fetch calendar events or mail and extract tasks",
		ArgsUsage: "<calendar|mail>",
		Flags:     []cli.Flag{userFlag()},
		Action:    runIngest,
	}
}

func runIngest(ctx context.Context, cmd *cli.Command) error {
	source := cmd.Args().First()
	if source == "" {
		return fmt.Errorf("usage: dayflow ingest --user <id> <calendar|mail>")
	}

	app, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Stop()

	report, err := app.RunIngest(ctx, cmd.String("user"), domain.Source(source))
	if err != nil {
		return fmt.Errorf("ingest %s: %w", source, err)
	}

	fmt.Printf("Fetched:   %d\n", report.Fetched)
	fmt.Printf("Extracted: %d\n", report.Extracted)
	fmt.Printf("New:       %d\n", report.PersistedNew)
	fmt.Printf("Updated:   %d\n", report.PersistedUpdated)
	fmt.Printf("Spam:      %d\n", report.SkippedSpam)
	if report.Degraded {
		fmt.Printf("Degraded:  yes (stage %s)\n", report.FailedStage)
	}
	for _, e := range report.Errors {
		fmt.Printf("Error: %s\n", e)
	}
	return nil
}
