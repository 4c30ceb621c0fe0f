package commands

import (
	"github.com/spf13/cobra"

	"github.com/feichai0017/medical-document-processor/internal/repository"
)

func newMigrateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := repository.Open(cmd.Context(), c.cfg.Database, c.log)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := repository.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			c.log.Info("Schema applied")
			return nil
		},
	}
}
