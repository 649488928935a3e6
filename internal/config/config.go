package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
	"github.com/caarlos0/env/v9"
)

// Config holds all process configuration read from the environment.
type Config struct {
	Cloudflare CloudflareConfig
	Rules      RulesConfig
	IPLookup   IPLookupConfig
	Server     ServerConfig
	Database   DatabaseConfig
	Sync       SyncConfig
	OIDC       OIDCConfig
}

// CloudflareConfig holds Cloudflare API configuration.
type CloudflareConfig struct {
	APIToken string `env:"CF_API_TOKEN"`
	BaseURL  string `env:"CF_API_BASE_URL" envDefault:"https://api.cloudflare.com/client/v4"`
	FileShim string `env:"CF_FILE_SHIM"` // Path to a JSON file standing in for the API
}

// RulesConfig points at the declarative rules document.
type RulesConfig struct {
	File string `env:"WAF_CONFIG_FILE" envDefault:"config.yaml"`
}

// IPLookupConfig holds settings for the address lookup services.
type IPLookupConfig struct {
	PublicURL string        `env:"PUBLIC_IP_URL" envDefault:"https://api.ipify.org?format=json"`
	Timeout   time.Duration `env:"IP_LOOKUP_TIMEOUT" envDefault:"10s"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/waf-manager.db"`
}

// SyncConfig holds sync behavior configuration.
type SyncConfig struct {
	Interval        time.Duration `env:"SYNC_INTERVAL" envDefault:"0s"` // 0 disables periodic sync
	Debounce        time.Duration `env:"SYNC_DEBOUNCE" envDefault:"5s"`
	BootstrapAPIKey string        `env:"BOOTSTRAP_API_KEY"`
}

// OIDCConfig enables OIDC ID tokens as API bearer credentials.
type OIDCConfig struct {
	Enabled        bool   `env:"OIDC_ENABLED" envDefault:"false"`
	IssuerURL      string `env:"OIDC_ISSUER_URL"`
	ClientID       string `env:"OIDC_CLIENT_ID"`
	AllowedDomains string `env:"OIDC_ALLOWED_DOMAINS"`
}

// GetAllowedDomains returns the allowed domains as a slice.
func (c *OIDCConfig) GetAllowedDomains() []string {
	if c.AllowedDomains == "" {
		return nil
	}
	domains := strings.Split(c.AllowedDomains, ",")
	for i := range domains {
		domains[i] = strings.TrimSpace(domains[i])
	}
	return domains
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Cloudflare); err != nil {
		return nil, fmt.Errorf("parsing cloudflare config: %w", err)
	}
	if err := env.Parse(&cfg.Rules); err != nil {
		return nil, fmt.Errorf("parsing rules config: %w", err)
	}
	if err := env.Parse(&cfg.IPLookup); err != nil {
		return nil, fmt.Errorf("parsing ip lookup config: %w", err)
	}
	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Sync); err != nil {
		return nil, fmt.Errorf("parsing sync config: %w", err)
	}
	if err := env.Parse(&cfg.OIDC); err != nil {
		return nil, fmt.Errorf("parsing oidc config: %w", err)
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	// If using the file shim, Cloudflare credentials are not required
	if c.Cloudflare.FileShim == "" && c.Cloudflare.APIToken == "" {
		return fmt.Errorf("%w: CF_API_TOKEN is required (or set CF_FILE_SHIM for testing)", domain.ErrConfiguration)
	}

	if c.OIDC.Enabled {
		if c.OIDC.IssuerURL == "" {
			return fmt.Errorf("%w: OIDC_ISSUER_URL is required when OIDC is enabled", domain.ErrConfiguration)
		}
		if c.OIDC.ClientID == "" {
			return fmt.Errorf("%w: OIDC_CLIENT_ID is required when OIDC is enabled", domain.ErrConfiguration)
		}
	}

	return nil
}

// UseFileShim returns true if the file shim should be used instead of the real API.
func (c *Config) UseFileShim() bool {
	return c.Cloudflare.FileShim != ""
}
