/*
Package config loads engine configuration from a TOML file with sane
defaults and environment fallbacks for secrets.

PURPOSE:
  Everything operational lives here: listen port, database path, provider
  credentials, and the package catalog. Pricing is deliberately
  configuration rather than code - package tiers change without a deploy.

PRECEDENCE:
  defaults < TOML file < environment (secrets only). Command-line flags
  in cmd/server override the port and database path last.
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/brighttails/credit-engine/packages"
)

type ServerConfig struct {
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type StripeConfig struct {
	SecretKey      string `toml:"secret_key"`
	WebhookSecret  string `toml:"webhook_secret"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type CalComConfig struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// PackageConfig is one purchasable tier. Price is expressed in dollars
// as a string to avoid float drift in money values.
type PackageConfig struct {
	ID      string   `toml:"id"`
	Name    string   `toml:"name"`
	Credits int      `toml:"credits"`
	Price   string   `toml:"price"`
	Aliases []string `toml:"aliases"`
}

type Config struct {
	Server           ServerConfig    `toml:"server"`
	Database         DatabaseConfig  `toml:"database"`
	Stripe           StripeConfig    `toml:"stripe"`
	CalCom           CalComConfig    `toml:"calcom"`
	Packages         []PackageConfig `toml:"packages"`
	ToleranceDollars string          `toml:"tolerance_dollars"`
	DefaultPackageID string          `toml:"default_package_id"`
}

// DefaultConfig mirrors production pricing: three tiers with a $1.00
// amount-matching tolerance.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{Path: "./data/credits.db"},
		Stripe:   StripeConfig{TimeoutSeconds: 5},
		CalCom: CalComConfig{
			BaseURL:        "https://api.cal.com",
			TimeoutSeconds: 10,
		},
		ToleranceDollars: "1.00",
		DefaultPackageID: "single",
	}
}

// Load reads the TOML file at path over the defaults. An empty path skips
// the file and returns defaults plus environment fallbacks. Secrets absent
// from the file fall back to STRIPE_SECRET_KEY, STRIPE_WEBHOOK_SECRET, and
// CALCOM_API_KEY.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	if cfg.Stripe.SecretKey == "" {
		cfg.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	}
	if cfg.Stripe.WebhookSecret == "" {
		cfg.Stripe.WebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	}
	if cfg.CalCom.APIKey == "" {
		cfg.CalCom.APIKey = os.Getenv("CALCOM_API_KEY")
	}
	return cfg, nil
}

// StripeTimeout returns the per-call payment provider deadline as a
// duration.
func (c Config) StripeTimeout() time.Duration {
	return time.Duration(c.Stripe.TimeoutSeconds) * time.Second
}

// CalComTimeout returns the booking client timeout as a duration.
func (c Config) CalComTimeout() time.Duration {
	return time.Duration(c.CalCom.TimeoutSeconds) * time.Second
}

// Catalog builds the package catalog from configuration. With no
// [[packages]] blocks the production defaults apply.
func (c Config) Catalog() (*packages.Catalog, error) {
	if len(c.Packages) == 0 {
		return packages.Default(), nil
	}

	tolerance, err := decimal.NewFromString(c.ToleranceDollars)
	if err != nil {
		return nil, fmt.Errorf("invalid tolerance_dollars %q: %w", c.ToleranceDollars, err)
	}

	pkgs := make([]packages.Package, 0, len(c.Packages))
	for _, p := range c.Packages {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("invalid price %q for package %s: %w", p.Price, p.ID, err)
		}
		if p.Credits <= 0 {
			return nil, fmt.Errorf("package %s: credits must be positive", p.ID)
		}
		pkgs = append(pkgs, packages.Package{
			ID:      p.ID,
			Name:    p.Name,
			Credits: p.Credits,
			Price:   price,
			Aliases: p.Aliases,
		})
	}
	return packages.New(pkgs, tolerance, c.DefaultPackageID), nil
}
