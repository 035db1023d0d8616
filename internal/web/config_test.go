package web

import (
	"strings"
	"testing"
)

func validTestConfig() *Config {
	return &Config{
		DataDir:             "/data",
		BindAddress:         "0.0.0.0",
		Port:                8470,
		BaseURL:             "https://foyer.test",
		TokenSecret:         strings.Repeat("s", 32),
		StripeAPIKey:        "sk_test_123",
		StripeWebhookSecret: "whsec_123",
		EmailFrom:           "noreply@foyer.test",
	}
}

func TestConfigValidate(t *testing.T) {
	if err := validTestConfig().validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing base URL", func(c *Config) { c.BaseURL = "" }, "FOYER_BASE_URL"},
		{"missing token secret", func(c *Config) { c.TokenSecret = "" }, "FOYER_TOKEN_SECRET"},
		{"missing stripe key", func(c *Config) { c.StripeAPIKey = "" }, "STRIPE_API_KEY"},
		{"missing webhook secret", func(c *Config) { c.StripeWebhookSecret = "" }, "STRIPE_WEBHOOK_SECRET"},
		{"short token secret", func(c *Config) { c.TokenSecret = "short" }, "32 characters"},
		{"bad port", func(c *Config) { c.Port = 0 }, "FOYER_PORT"},
		{"bad scheme", func(c *Config) { c.BaseURL = "ftp://foyer.test" }, "http or https"},
		{"no host", func(c *Config) { c.BaseURL = "https://" }, "host"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(cfg)
			err := cfg.validate()
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestConfigDirs(t *testing.T) {
	cfg := validTestConfig()
	if got := cfg.RegistryDir(); got != "/data/registry" {
		t.Errorf("RegistryDir = %q", got)
	}
	if got := cfg.ImagesDir(); got != "/data/profile_images" {
		t.Errorf("ImagesDir = %q", got)
	}
}
