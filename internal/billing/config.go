// Package billing is the HTTP surface and wiring for the subscription
// subsystem: configuration, identity, routing, and the server lifecycle.
package billing

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the billing service.
type Config struct {
	DataDir             string
	BindAddress         string
	Port                int
	AdminKey            string
	BaseURL             string
	StripeAPIKey        string
	StripeWebhookSecret string
	PostmarkServerToken string // optional; emails are logged when empty
	EmailFrom           string
	PublicStatus        bool
	PublicMetrics       bool
	MonitorInterval     time.Duration
	MonitorThresholdPct int64
}

// BillingDir returns the directory holding the billing database.
func (c *Config) BillingDir() string {
	return filepath.Join(c.DataDir, "billing")
}

// LoadConfig loads billing configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("EG_PORT", 8443)
	if err != nil {
		return nil, err
	}
	monitorMinutes, err := envOrDefaultInt("EG_MONITOR_INTERVAL_MINUTES", 60)
	if err != nil {
		return nil, err
	}
	thresholdPct, err := envOrDefaultInt64("EG_USAGE_THRESHOLD_PCT", 90)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             envOrDefault("EG_DATA_DIR", "/data"),
		BindAddress:         envOrDefault("EG_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		AdminKey:            strings.TrimSpace(os.Getenv("EG_ADMIN_KEY")),
		BaseURL:             strings.TrimSpace(os.Getenv("EG_BASE_URL")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		PostmarkServerToken: strings.TrimSpace(os.Getenv("POSTMARK_SERVER_TOKEN")),
		EmailFrom:           envOrDefault("EG_EMAIL_FROM", "billing@entityguardian.pro"),
		PublicStatus:        envOrDefaultBool("EG_PUBLIC_STATUS", false),
		PublicMetrics:       envOrDefaultBool("EG_PUBLIC_METRICS", false),
		MonitorInterval:     time.Duration(monitorMinutes) * time.Minute,
		MonitorThresholdPct: thresholdPct,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate billing config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.AdminKey == "" {
		missing = append(missing, "EG_ADMIN_KEY")
	}
	if c.BaseURL == "" {
		missing = append(missing, "EG_BASE_URL")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("EG_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.MonitorThresholdPct < 1 || c.MonitorThresholdPct > 100 {
		return fmt.Errorf("EG_USAGE_THRESHOLD_PCT must be between 1 and 100, got %d", c.MonitorThresholdPct)
	}

	parsedBaseURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("EG_BASE_URL must be a valid URL: %w", err)
	}
	if parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https" {
		return fmt.Errorf("EG_BASE_URL must use http or https scheme")
	}
	if parsedBaseURL.Host == "" {
		return fmt.Errorf("EG_BASE_URL must include a host")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultInt64(key string, fallback int64) (int64, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}
