package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/goIdentity/internal/app"
)

var (
	cfg    *app.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "identityctl",
	Short: "goIdentity operations CLI",
	Long: `identityctl manages a goIdentity deployment. It reads the same
environment as identityd (PG_DSN, REDIS_ADDR, JWT_SECRET, ...).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := app.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		logger = app.NewLogger(cfg)
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(migrateCmd, seedCmd, sweepCmd, workerCmd)
}
