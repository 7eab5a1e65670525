package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/dayflow/internal/domain"
)

func dateFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "date",
		Usage: "Plan date (YYYY-MM-DD), defaults to today",
	}
}

// NewPlanCommand returns the plan subcommand.
func NewPlanCommand() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Generate and inspect daily plans",
		Commands: []*cli.Command{
			{
				Name:   "generate",
				Usage:  "Generate (or regenerate) the plan for a date",
				Flags:  []cli.Flag{userFlag(), dateFlag()},
				Action: runPlanGenerate,
			},
			{
				Name:   "show",
				Usage:  "Show the plan for a date",
				Flags:  []cli.Flag{userFlag(), dateFlag()},
				Action: runPlanShow,
			},
		},
		DefaultCommand: "show",
	}
}

func runPlanGenerate(ctx context.Context, cmd *cli.Command) error {
	app, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Stop()

	plan, err := app.GeneratePlan(ctx, cmd.String("user"), cmd.String("date"))
	if err != nil {
		return fmt.Errorf("generate plan: %w", err)
	}
	printPlan(plan)
	return nil
}

func runPlanShow(ctx context.Context, cmd *cli.Command) error {
	app, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Stop()

	plan, err := app.GetPlan(ctx, cmd.String("user"), cmd.String("date"))
	if err != nil {
		return fmt.Errorf("get plan: %w", err)
	}
	if plan == nil {
		fmt.Println("No plan for that date.")
		return nil
	}
	printPlan(plan)
	return nil
}

func printPlan(plan *domain.DailyPlan) {
	fmt.Printf("Plan %s (%s, energy %d, %s)\n", plan.ID, plan.Date, plan.EnergyLevel, plan.Status)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "START\tEND\tSCORE\tSTATUS\tTITLE")
	for _, e := range plan.Entries {
		title := e.Title
		if e.IsCritical {
			title = "[critical] " + title
		} else if e.IsUrgent {
			title = "[urgent] " + title
		}
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%s\t%s\n",
			e.PredictedStart.Format("15:04"),
			e.PredictedEnd.Format("15:04"),
			e.PriorityScore,
			e.Status,
			title,
		)
	}
	w.Flush()
}
