package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/dayflow/internal/domain"
)

// NewNotificationsCommand returns the notifications subcommand.
func NewNotificationsCommand() *cli.Command {
	return &cli.Command{
		Name:  "notifications",
		Usage: "Inspect and dismiss nudges",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List notifications",
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{Name: "status", Usage: "Filter by status (pending, sent, dismissed)"},
					&cli.IntFlag{Name: "limit", Usage: "Show at most this many notifications"},
				},
				Action: runNotificationsList,
			},
			{
				Name:      "dismiss",
				Usage:     "Dismiss a notification",
				ArgsUsage: "<notification_id>",
				Flags:     []cli.Flag{userFlag()},
				Action:    runNotificationsDismiss,
			},
		},
		DefaultCommand: "list",
	}
}

func runNotificationsList(ctx context.Context, cmd *cli.Command) error {
	app, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Stop()

	list, err := app.ListNotifications(ctx, cmd.String("user"),
		domain.NotificationStatus(cmd.String("status")), cmd.Int("limit"))
	if err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No notifications found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSCHEDULED\tMESSAGE")
	for _, n := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			n.ID,
			n.Status,
			n.ScheduledAt.Format("2006-01-02 15:04"),
			n.Message,
		)
	}
	return w.Flush()
}

func runNotificationsDismiss(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: dayflow notifications dismiss --user <id> <notification_id>")
	}

	app, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Stop()

	n, err := app.DismissNotification(ctx, cmd.String("user"), id)
	if err != nil {
		return fmt.Errorf("dismiss notification: %w", err)
	}
	fmt.Printf("Notification %s dismissed.\n", n.ID)
	return nil
}
