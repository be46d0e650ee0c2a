package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicops/dealsync/internal/db"
	"github.com/clinicops/dealsync/internal/ghl"
	"github.com/clinicops/dealsync/internal/notify"
	"github.com/clinicops/dealsync/internal/processor"
	"github.com/clinicops/dealsync/internal/queue"
	"github.com/clinicops/dealsync/internal/server"
	"github.com/clinicops/dealsync/internal/token"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var (
		configPath   string
		migrateFirst bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dealsync API server and sync scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, migrateFirst)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dealsync.yaml", "path to dealsync config file")
	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "run database migrations before starting")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, migrateFirst bool) error {
	cfg, gormDB, err := openFromConfig(configPath)
	if err != nil {
		return err
	}
	if migrateFirst {
		if err := db.AutoMigrate(gormDB); err != nil {
			return err
		}
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

	sched, err := processor.Schedule(proc, cfg.Sync.Schedule, logger)
	if err != nil {
		return err
	}
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, gormDB, store, overrides, broker, proc, logger)
	return srv.Start(ctx)
}
