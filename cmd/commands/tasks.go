package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/dayflow/internal/domain"
	"github.com/dohr-michael/dayflow/internal/store"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect and flag tasks",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{Name: "source", Usage: "Filter by source (calendar, mail, task_manager, manual)"},
					&cli.BoolFlag{Name: "all", Usage: "Include spam and completed tasks"},
				},
				Action: runTasksList,
			},
			{
				Name:      "flag",
				Usage:     "Override task flags",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					userFlag(),
					&cli.BoolFlag{Name: "critical", Usage: "Mark critical"},
					&cli.BoolFlag{Name: "urgent", Usage: "Mark urgent"},
					&cli.BoolFlag{Name: "completed", Usage: "Mark completed"},
				},
				Action: runTasksFlag,
			},
		},
		DefaultCommand: "list",
	}
}

func runTasksList(ctx context.Context, cmd *cli.Command) error {
	app, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Stop()

	filter := store.TaskFilter{
		Source:           domain.Source(cmd.String("source")),
		IncludeSpam:      cmd.Bool("all"),
		IncludeCompleted: cmd.Bool("all"),
	}
	list, err := app.ListTasks(ctx, cmd.String("user"), filter)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tPRIORITY\tFLAGS\tSYNC\tTITLE")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.Source,
			t.Priority,
			taskFlags(t),
			t.SyncStatus,
			t.Title,
		)
	}
	return w.Flush()
}

func taskFlags(t *domain.Task) string {
	flags := ""
	if t.IsCritical {
		flags += "C"
	}
	if t.IsUrgent {
		flags += "U"
	}
	if t.IsSpam {
		flags += "S"
	}
	if t.IsCompleted {
		flags += "D"
	}
	if flags == "" {
		flags = "-"
	}
	return flags
}

func runTasksFlag(ctx context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: dayflow tasks flag --user <id> <task_id>")
	}

	app, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Stop()

	// Only flags the caller actually set are applied.
	var critical, urgent, completed *bool
	if cmd.IsSet("critical") {
		v := cmd.Bool("critical")
		critical = &v
	}
	if cmd.IsSet("urgent") {
		v := cmd.Bool("urgent")
		urgent = &v
	}
	if cmd.IsSet("completed") {
		v := cmd.Bool("completed")
		completed = &v
	}
	if critical == nil && urgent == nil && completed == nil {
		return fmt.Errorf("nothing to change: pass --critical, --urgent or --completed")
	}

	task, err := app.UpdateTaskFlags(ctx, cmd.String("user"), taskID, critical, urgent, completed)
	if err != nil {
		return fmt.Errorf("update flags: %w", err)
	}
	fmt.Printf("Task %s: %s\n", task.ID, taskFlags(task))
	return nil
}
