// Package config provides YAML-based configuration loading for dealsync.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level dealsync configuration, loaded from dealsync.yaml.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Provider ProviderConfig `yaml:"provider"`
	Sync     SyncConfig     `yaml:"sync"`
	Tenants  []TenantConfig `yaml:"tenants"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// HTTPConfig holds settings for the API server.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig holds connection settings for the MySQL-compatible store.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ProviderConfig holds the CRM OAuth application settings.
type ProviderConfig struct {
	BaseURL      string `yaml:"base_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	// BootstrapRefreshToken is consulted only when a tenant has no persisted
	// token record at all, not when the stored token is merely expired.
	BootstrapRefreshToken string `yaml:"bootstrap_refresh_token"`
}

// SyncConfig controls the queue processor.
type SyncConfig struct {
	BatchSize   int    `yaml:"batch_size"`
	MaxAttempts int    `yaml:"max_attempts"`
	Schedule    string `yaml:"schedule"`
	// SharedSecret, when set, is required in the X-Sync-Secret header of the
	// manual trigger endpoint.
	SharedSecret string `yaml:"shared_secret"`
}

// TenantConfig identifies one CRM company and the clinic location whose
// sales pipeline is tracked. A tenant may own several pipelines; only the
// named one is synced.
type TenantConfig struct {
	Key        string `yaml:"key"`
	CompanyID  string `yaml:"company_id"`
	LocationID string `yaml:"location_id"`
	Pipeline   string `yaml:"pipeline"`
}

// NotifyConfig holds optional operator-notification settings.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig configures Slack notifications for sync failures.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// DiscordConfig configures Discord notifications for sync failures.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Tenant returns the configuration for the given tenant key, or nil if the
// key is unknown.
func (c *Config) Tenant(key string) *TenantConfig {
	for i := range c.Tenants {
		if c.Tenants[i].Key == key {
			return &c.Tenants[i]
		}
	}
	return nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8090
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Name == "" {
		c.Database.Name = "dealsync"
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://services.leadconnectorhq.com"
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 25
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = 3
	}
	if c.Sync.Schedule == "" {
		c.Sync.Schedule = "*/5 * * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Provider.ClientID == "" {
		errs = append(errs, "provider.client_id is required")
	}
	if c.Provider.ClientSecret == "" {
		errs = append(errs, "provider.client_secret is required")
	}
	if len(c.Tenants) == 0 {
		errs = append(errs, "at least one tenant is required")
	}
	seen := make(map[string]bool)
	for i, t := range c.Tenants {
		if t.Key == "" {
			errs = append(errs, fmt.Sprintf("tenants[%d].key is required", i))
		} else if seen[t.Key] {
			errs = append(errs, fmt.Sprintf("tenants[%d].key %q is duplicated", i, t.Key))
		} else {
			seen[t.Key] = true
		}
		if t.LocationID == "" {
			errs = append(errs, fmt.Sprintf("tenants[%d].location_id is required", i))
		}
		if t.Pipeline == "" {
			errs = append(errs, fmt.Sprintf("tenants[%d].pipeline is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
