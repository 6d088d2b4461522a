package cmd

import (
	"github.com/spf13/cobra"

	"github.com/MrEthical07/goIdentity/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, err := postgres.Open(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		cmd.Println("schema up to date")
		return nil
	},
}
