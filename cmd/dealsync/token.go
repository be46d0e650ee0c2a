package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/clinicops/dealsync/internal/ghl"
	"github.com/clinicops/dealsync/internal/models"
	"github.com/clinicops/dealsync/internal/token"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage CRM credentials",
	}

	cmd.AddCommand(newTokenSeedCmd())
	cmd.AddCommand(newTokenStatusCmd())
	return cmd
}

func newTokenSeedCmd() *cobra.Command {
	var (
		configPath string
		companyID  string
	)

	cmd := &cobra.Command{
		Use:   "seed <tenant-key>",
		Short: "Seed a tenant's refresh token",
		Long:  "Stores an initial refresh token for a tenant. The token is read from the terminal without echo; it rotates on first use, so the pasted value is only valid until then.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenSeed(cmd, configPath, args[0], companyID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dealsync.yaml", "path to dealsync config file")
	cmd.Flags().StringVar(&companyID, "company-id", "", "CRM company id for the tenant")
	return cmd
}

func runTokenSeed(cmd *cobra.Command, configPath, tenantKey, companyID string) error {
	cfg, gormDB, err := openFromConfig(configPath)
	if err != nil {
		return err
	}
	tenant := cfg.Tenant(tenantKey)
	if tenant == nil {
		return fmt.Errorf("unknown tenant %q", tenantKey)
	}
	if companyID == "" {
		companyID = tenant.CompanyID
	}

	fmt.Fprint(cmd.OutOrStdout(), "refresh token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("read refresh token: %w", err)
	}
	refreshToken := strings.TrimSpace(string(raw))
	if refreshToken == "" {
		return fmt.Errorf("refresh token is empty")
	}

	client := ghl.New(ghl.Config{
		BaseURL:      cfg.Provider.BaseURL,
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		Timeout:      30 * time.Second,
	})
	broker := token.NewBroker(gormDB, client, cfg.Provider, zap.NewNop())

	if err := broker.Reseed(tenantKey, companyID, refreshToken, "", time.Time{}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "credential stored for tenant %s\n", tenantKey)
	return nil
}

func newTokenStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show stored credential state per tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := openFromConfig(configPath)
			if err != nil {
				return err
			}

			var records []models.TokenRecord
			if err := gormDB.Order("tenant_key ASC").Find(&records).Error; err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-12s  %-14s  %-20s  %s\n", "TENANT", "NEEDS_REAUTH", "ACCESS_EXPIRES", "LAST_ERROR")
			for _, r := range records {
				expires := "-"
				if r.AccessExpiresAt != nil && !r.AccessExpiresAt.IsZero() {
					expires = r.AccessExpiresAt.Format(time.RFC3339)
				}
				lastErr := r.LastError
				if len(lastErr) > 50 {
					lastErr = lastErr[:47] + "..."
				}
				fmt.Fprintf(out, "%-12s  %-14t  %-20s  %s\n", r.TenantKey, r.NeedsReauth, expires, lastErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "dealsync.yaml", "path to dealsync config file")
	return cmd
}
