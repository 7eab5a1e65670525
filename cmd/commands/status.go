package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/dayflow/internal/config"
	"github.com/dohr-michael/dayflow/internal/heartbeat"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show dayflow server status",
		Action: func(_ context.Context, _ *cli.Command) error {
			state, beat, err := heartbeat.Probe(config.HeartbeatPath(), 2*time.Minute)
			if err != nil {
				return fmt.Errorf("probe heartbeat: %w", err)
			}

			switch state {
			case heartbeat.StateAlive:
				fmt.Printf("Server: ALIVE (PID %d, uptime %s)\n", beat.PID, beat.Uptime)
			case heartbeat.StateStale:
				fmt.Printf("Server: STALE (PID %d, last heartbeat %s ago)\n",
					beat.PID, time.Since(beat.Timestamp).Truncate(time.Second))
			case heartbeat.StateDead:
				fmt.Println("Server: NOT RUNNING")
			}

			return nil
		},
	}
}
