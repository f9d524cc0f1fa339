// Package config loads server configuration from the environment.
package config

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/roach88/storygate/internal/reward"
)

// Config is the serve-mode configuration. Every field maps to a
// STORYGATE_* environment variable.
type Config struct {
	Addr            string        `env:"STORYGATE_ADDR" envDefault:":8080"`
	DBPath          string        `env:"STORYGATE_DB" envDefault:"storygate.db"`
	AdminKey        string        `env:"STORYGATE_ADMIN_KEY"`
	Schedule        string        `env:"STORYGATE_SCHEDULE" envDefault:"5 0 * * *"`
	Templates       string        `env:"STORYGATE_TEMPLATES"`
	ShutdownTimeout time.Duration `env:"STORYGATE_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"STORYGATE_WRITE_TIMEOUT" envDefault:"10s"`

	RedisAddr  string        `env:"STORYGATE_REDIS_ADDR"`
	PendingTTL time.Duration `env:"STORYGATE_PENDING_TTL" envDefault:"2m"`

	RevenueCatKey  string        `env:"STORYGATE_REVENUECAT_API_KEY"`
	RevenueCatURL  string        `env:"STORYGATE_REVENUECAT_URL" envDefault:"https://api.revenuecat.com"`
	EntitlementTTL time.Duration `env:"STORYGATE_ENTITLEMENT_TTL" envDefault:"1m"`

	Offer Offer

	RewardIssuer    string `env:"STORYGATE_REWARD_ISSUER"`
	RewardAudience  string `env:"STORYGATE_REWARD_AUDIENCE" envDefault:"storygate"`
	RewardPublicKey string `env:"STORYGATE_REWARD_PUBLIC_KEY"`
}

// Offer describes the subscription product shown on the paywall.
type Offer struct {
	EntitlementID string `env:"STORYGATE_ENTITLEMENT_ID" envDefault:"fictionreader_entitlement" json:"entitlement_id"`
	ProductID     string `env:"STORYGATE_PRODUCT_ID" envDefault:"fictionreader_sub" json:"product_id"`
	BasePlanID    string `env:"STORYGATE_BASE_PLAN_ID" envDefault:"basic-monthly" json:"base_plan_id"`
	PriceLabel    string `env:"STORYGATE_PRICE_LABEL" envDefault:"$2.99/month" json:"price_label"`
	ManageHint    string `env:"STORYGATE_MANAGE_HINT" envDefault:"Manage or cancel any time in Play Store subscriptions." json:"manage_hint"`
}

// Load reads an optional .env file and then the environment. An explicit
// envFile must exist; the default ".env" may be absent.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("STORYGATE_ADDR must not be empty")
	}
	if c.DBPath == "" {
		return errors.New("STORYGATE_DB must not be empty")
	}
	if c.Offer.EntitlementID == "" {
		return errors.New("STORYGATE_ENTITLEMENT_ID must not be empty")
	}
	if c.RewardPublicKey != "" {
		if c.RewardIssuer == "" {
			return errors.New("STORYGATE_REWARD_ISSUER is required with STORYGATE_REWARD_PUBLIC_KEY")
		}
		if _, err := reward.ParsePublicKey(c.RewardPublicKey); err != nil {
			return fmt.Errorf("STORYGATE_REWARD_PUBLIC_KEY: %w", err)
		}
	}
	return nil
}

// RewardEnabled reports whether reward tokens can be verified.
func (c Config) RewardEnabled() bool {
	return c.RewardPublicKey != ""
}

// RewardConfig returns the verifier configuration.
func (c Config) RewardConfig(now func() time.Time) (reward.Config, error) {
	key, err := reward.ParsePublicKey(c.RewardPublicKey)
	if err != nil {
		return reward.Config{}, fmt.Errorf("reward public key: %w", err)
	}
	return reward.Config{
		Issuer:   c.RewardIssuer,
		Audience: c.RewardAudience,
		Key:      ed25519.PublicKey(key),
		Now:      now,
	}, nil
}
