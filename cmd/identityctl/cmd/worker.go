package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/goIdentity/internal/app"
	"github.com/MrEthical07/goIdentity/jobs"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background worker and its sweep schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := app.Open(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		worker, err := jobs.NewWorker(jobs.WorkerConfig{
			RedisOpts:   cfg.RedisOpts(),
			Logger:      logger,
			Sweeper:     rt.Engine,
			Concurrency: cfg.WorkerConcurrency,
			SweepSpec:   cfg.SweepSpec,
		})
		if err != nil {
			return err
		}
		return worker.Run(ctx)
	},
}
