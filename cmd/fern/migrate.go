package main

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/database"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := opts.cfg

			db, err := database.Connect(ctx, connectionConfig(cfg), opts.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			return database.NewMigrationService(opts.logger, migrationConfig(cfg)).MigratePostgres(db, cfg.DatabaseName)
		},
	}
}
