package web

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the Foyer web application.
type Config struct {
	DataDir             string
	BindAddress         string
	Port                int
	BaseURL             string
	TokenSecret         string
	StripeAPIKey        string
	StripeWebhookSecret string
	PostmarkServerToken string // optional — if empty, emails are logged
	EmailFrom           string
	LogLevel            string
	LogFormat           string
}

// RegistryDir returns the directory holding the accounts database.
func (c *Config) RegistryDir() string {
	return filepath.Join(c.DataDir, "registry")
}

// ImagesDir returns the directory holding uploaded profile images.
func (c *Config) ImagesDir() string {
	return filepath.Join(c.DataDir, "profile_images")
}

// LoadConfig loads application configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("FOYER_PORT", 8470)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             envOrDefault("FOYER_DATA_DIR", "/data"),
		BindAddress:         envOrDefault("FOYER_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		BaseURL:             strings.TrimSpace(os.Getenv("FOYER_BASE_URL")),
		TokenSecret:         strings.TrimSpace(os.Getenv("FOYER_TOKEN_SECRET")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		PostmarkServerToken: strings.TrimSpace(os.Getenv("POSTMARK_SERVER_TOKEN")),
		EmailFrom:           envOrDefault("FOYER_EMAIL_FROM", "noreply@foyerhq.com"),
		LogLevel:            envOrDefault("FOYER_LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("FOYER_LOG_FORMAT", "auto"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "FOYER_BASE_URL")
	}
	if c.TokenSecret == "" {
		missing = append(missing, "FOYER_TOKEN_SECRET")
	}
	if c.StripeAPIKey == "" {
		missing = append(missing, "STRIPE_API_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("FOYER_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if len(c.TokenSecret) < 32 {
		return fmt.Errorf("FOYER_TOKEN_SECRET must be at least 32 characters")
	}

	parsedBaseURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("FOYER_BASE_URL must be a valid URL: %w", err)
	}
	if parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https" {
		return fmt.Errorf("FOYER_BASE_URL must use http or https scheme")
	}
	if parsedBaseURL.Host == "" {
		return fmt.Errorf("FOYER_BASE_URL must include a host")
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
