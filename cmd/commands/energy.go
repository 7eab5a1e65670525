package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"
)

// NewEnergyCommand returns the energy subcommand.
func NewEnergyCommand() *cli.Command {
	return &cli.Command{
		Name:      "energy",
		Usage:     "Record your energy level for a date (1..5)",
		ArgsUsage: "<level>",
		Flags:     []cli.Flag{userFlag(), dateFlag()},
		Action:    runEnergy,
	}
}

func runEnergy(ctx context.Context, cmd *cli.Command) error {
	raw := cmd.Args().First()
	if raw == "" {
		return fmt.Errorf("usage: dayflow energy --user <id> <level>")
	}
	level, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("energy level must be a number: %q", raw)
	}

	app, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Stop()

	if err := app.SetEnergy(ctx, cmd.String("user"), cmd.String("date"), level); err != nil {
		return fmt.Errorf("set energy: %w", err)
	}
	fmt.Printf("Energy level set to %d.\n", level)
	return nil
}
