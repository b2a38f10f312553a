package main

import (
	"github.com/spf13/cobra"

	"github.com/xelpkg/registry/pkg/db"
	"github.com/xelpkg/registry/pkg/jobs"
	"github.com/xelpkg/registry/pkg/registry"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			gormDB, err := db.Connect(cfg.Database())
			if err != nil {
				return err
			}
			a := &app{
				cfg:      cfg,
				logger:   logger,
				db:       gormDB,
				registry: registry.NewStore(gormDB),
				jobStore: jobs.NewJobStore(gormDB),
			}
			defer a.Close()

			if err := a.migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info("schema is up to date", "dbType", cfg.DBType)
			return nil
		},
	}
}
