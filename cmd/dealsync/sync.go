package main

import (
	"fmt"
	"time"

	"github.com/clinicops/dealsync/internal/ghl"
	"github.com/clinicops/dealsync/internal/notify"
	"github.com/clinicops/dealsync/internal/processor"
	"github.com/clinicops/dealsync/internal/queue"
	"github.com/clinicops/dealsync/internal/token"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSyncCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one queue processor pass and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dealsync.yaml", "path to dealsync config file")
	return cmd
}

func runSync(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, err := openFromConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	client := ghl.New(ghl.Config{
		BaseURL:      cfg.Provider.BaseURL,
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		Timeout:      30 * time.Second,
	})

	broker := token.NewBroker(gormDB, client, cfg.Provider, logger)
	store := queue.NewStore(gormDB, cfg.Sync.MaxAttempts)
	overrides := queue.NewOverrides(gormDB)
	notifier := notify.NewFanout(cfg.Notify, logger)
	proc := processor.New(gormDB, cfg, store, overrides, broker, client, notifier, logger)

	result, err := proc.Run(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "processed: %d  failed: %d  remaining: %d\n",
		result.Processed, result.Failed, result.Remaining)
	return nil
}
