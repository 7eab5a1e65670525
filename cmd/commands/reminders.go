package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

// NewRemindersCommand returns the reminders subcommand.
func NewRemindersCommand() *cli.Command {
	return &cli.Command{
		Name:  "reminders",
		Usage: "Inspect low-signal items and promote them into tasks",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List reminders",
				Flags:  []cli.Flag{userFlag()},
				Action: runRemindersList,
			},
			{
				Name:      "promote",
				Usage:     "Promote a reminder into a schedulable task",
				ArgsUsage: "<reminder_id>",
				Flags:     []cli.Flag{userFlag()},
				Action:    runRemindersPromote,
			},
		},
		DefaultCommand: "list",
	}
}

func runRemindersList(ctx context.Context, cmd *cli.Command) error {
	app, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Stop()

	list, err := app.ListReminders(ctx, cmd.String("user"))
	if err != nil {
		return fmt.Errorf("list reminders: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No reminders found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tSTART\tTITLE")
	for _, rem := range list {
		start := rem.Start.Format("2006-01-02 15:04")
		if rem.IsAllDay {
			start = rem.Start.Format("2006-01-02") + " (all day)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rem.ID, rem.Source, start, rem.Title)
	}
	return w.Flush()
}

func runRemindersPromote(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: dayflow reminders promote --user <id> <reminder_id>")
	}

	app, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Stop()

	task, err := app.PromoteReminder(ctx, cmd.String("user"), id)
	if err != nil {
		return fmt.Errorf("promote reminder: %w", err)
	}
	fmt.Printf("Reminder promoted to task %s (%s).\n", task.ID, task.Title)
	return nil
}
