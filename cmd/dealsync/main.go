package main

import (
	"fmt"
	"os"

	"github.com/clinicops/dealsync/internal/config"
	"github.com/clinicops/dealsync/internal/db"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dealsync",
		Short: "dealsync is the CRM pipeline sync service for the sales board",
		Long:  "Dealsync mirrors the CRM opportunity pipeline locally and reconciles queued stage moves back to the CRM.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newQueueCmd())
	cmd.AddCommand(newTokenCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dealsync %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// openFromConfig loads configuration and opens the database.
func openFromConfig(path string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
