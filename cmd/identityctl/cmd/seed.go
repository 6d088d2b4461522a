package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/goIdentity/internal/seed"
	"github.com/MrEthical07/goIdentity/rbac"
	"github.com/MrEthical07/goIdentity/store/postgres"
)

var seedDryRun bool

var seedCmd = &cobra.Command{
	Use:   "seed <manifest.yaml>",
	Short: "Create or update roles and permissions from a YAML manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		manifest, err := seed.Load(f)
		if err != nil {
			return err
		}
		if seedDryRun {
			cmd.Printf("manifest ok: %d permissions, %d roles, %d assignments\n",
				len(manifest.Permissions), len(manifest.Roles), len(manifest.Assignments))
			return nil
		}

		ctx := cmd.Context()
		pool, err := postgres.Open(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pool.Close()

		rdb := cfg.RedisClient()
		defer rdb.Close()

		res, err := seed.Apply(ctx, manifest, seed.Stores{
			Catalog:     postgres.NewCatalog(pool),
			Assignments: postgres.NewAssignments(pool),
			Users:       postgres.NewUsers(pool),
			Notifier:    rbac.NewRedisInvalidator(rdb, rbac.InvalidationChannel(cfg.EngineConfig().Session.RedisPrefix)),
		})
		if err != nil {
			return err
		}
		for _, email := range res.MissingUsers {
			logger.Warn("assignment skipped, no such user", "email", email)
		}
		cmd.Printf("permissions: %d created, %d updated\nroles: %d created, %d updated\nbindings added: %d\nassignments added: %d\n",
			res.PermissionsCreated, res.PermissionsUpdated,
			res.RolesCreated, res.RolesUpdated,
			res.BindingsAdded, res.Assigned)
		return nil
	},
}

func init() {
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "Validate the manifest without writing")
}
