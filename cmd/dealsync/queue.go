package main

import (
	"fmt"

	"github.com/clinicops/dealsync/internal/queue"
	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and recover the move queue",
	}

	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueResetCmd())
	cmd.AddCommand(newQueuePurgeFailedCmd())
	cmd.AddCommand(newQueuePurgeFieldUpdatesCmd())
	return cmd
}

func newQueueListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued moves",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := openFromConfig(configPath)
			if err != nil {
				return err
			}
			store := queue.NewStore(gormDB, cfg.Sync.MaxAttempts)

			moves, err := store.List(status, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-36s  %-6s  %-10s  %-12s  %-8s  %-3s  %s\n",
				"ID", "KIND", "TENANT", "RECORD", "STATUS", "TRY", "ERROR")
			for _, m := range moves {
				lastErr := ""
				if m.LastError != nil {
					lastErr = *m.LastError
				}
				if len(lastErr) > 60 {
					lastErr = lastErr[:57] + "..."
				}
				fmt.Fprintf(out, "%-36s  %-6s  %-10s  %-12s  %-8s  %-3d  %s\n",
					m.ID, m.Kind, m.TenantKey, m.RecordID, m.Status, m.Attempts, lastErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dealsync.yaml", "path to dealsync config file")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, synced, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to show")
	return cmd
}

func newQueueResetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset all failed moves to pending with attempts zeroed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := openFromConfig(configPath)
			if err != nil {
				return err
			}
			n, err := queue.NewStore(gormDB, cfg.Sync.MaxAttempts).ResetFailed()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d moves\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dealsync.yaml", "path to dealsync config file")
	return cmd
}

func newQueuePurgeFailedCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "purge-failed",
		Short: "Delete all failed moves",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := openFromConfig(configPath)
			if err != nil {
				return err
			}
			n, err := queue.NewStore(gormDB, cfg.Sync.MaxAttempts).PurgeFailed()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d moves\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dealsync.yaml", "path to dealsync config file")
	return cmd
}

func newQueuePurgeFieldUpdatesCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "purge-field-updates",
		Short: "Delete all contact-field-update moves",
		Long:  "Deletes every field-update move regardless of status. Use when the CRM credential lacks the contact-write scope and the updates can never sync.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, gormDB, err := openFromConfig(configPath)
			if err != nil {
				return err
			}
			n, err := queue.NewStore(gormDB, cfg.Sync.MaxAttempts).PurgeFieldUpdates()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d moves\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dealsync.yaml", "path to dealsync config file")
	return cmd
}
