package cmd

import (
	"github.com/spf13/cobra"

	"github.com/MrEthical07/goIdentity/internal/app"
	"github.com/MrEthical07/goIdentity/jobs"
)

var sweepEnqueue bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired sessions",
	Long: `sweep removes expired sessions once and exits. With --enqueue it
schedules the sweep on the worker queue instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if sweepEnqueue {
			client := jobs.NewClient(cfg.RedisOpts())
			defer client.Close()
			info, err := client.EnqueueSweep(ctx, "identityctl")
			if err != nil {
				return err
			}
			cmd.Printf("enqueued %s on %s\n", info.ID, info.Queue)
			return nil
		}

		rt, err := app.Open(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		n, err := rt.Engine.SweepExpiredSessions(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("removed %d expired sessions\n", n)
		return nil
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepEnqueue, "enqueue", false, "Enqueue the sweep for the worker")
}
