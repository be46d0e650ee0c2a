package main

import (
	"fmt"

	"github.com/clinicops/dealsync/internal/db"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the dealsync database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := openFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(gormDB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dealsync.yaml", "path to dealsync config file")
	return cmd
}
