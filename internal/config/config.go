// Package config loads service configuration from environment variables.
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config carries every knob the server reads from the environment. Feature
// flags gate whole surfaces: a disabled rail or a disabled ascension path is
// rejected at validation time, never silently priced.
type Config struct {
	Application string `env:"APPLICATION" envDefault:"item-ascension-server"`
	Env         string `env:"ENV" envDefault:"dev"`
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`

	DatabasePath string `env:"DATABASE_PATH" envDefault:"ascension.db"`

	StoreEnabled     bool `env:"STORE_ENABLED" envDefault:"true"`
	CheckoutEnabled  bool `env:"CHECKOUT_ENABLED" envDefault:"true"`
	AscensionEnabled bool `env:"ASCENSION_ENABLED" envDefault:"true"`
	PayPalEnabled    bool `env:"PAYPAL_ENABLED" envDefault:"true"`
	EtherEnabled     bool `env:"ETHER_ENABLED" envDefault:"true"`

	Currency      string `env:"CURRENCY" envDefault:"USD"`
	AscensionCost string `env:"ASCENSION_COST" envDefault:"5.00"`

	GameLoginURL      string `env:"GAME_LOGIN_URI"`
	GameProfileURL    string `env:"GAME_PROFILE_URI"`
	GameInventoryURL  string `env:"GAME_INVENTORY_URI"`
	GameRemoveItemURL string `env:"GAME_REMOVE_ITEM_URI"`
	GameAdminUsername string `env:"GAME_ADMIN_USERNAME"`
	GameAdminPassword string `env:"GAME_ADMIN_PASSWORD"`
	// PEM-encoded RSA public key used to verify bearer tokens issued by the
	// game's login service.
	GameTokenPublicKey string `env:"GAME_TOKEN_PUBLIC_KEY"`

	PlatformURL           string `env:"ENJIN_PLATFORM_URL"`
	PlatformAdminEmail    string `env:"ENJIN_ADMIN_EMAIL"`
	PlatformAdminPassword string `env:"ENJIN_ADMIN_PASSWORD"`
	GameAppID             int64  `env:"GAME_APP_ID"`
	NetworkSuffix         string `env:"NETWORK_SUFFIX" envDefault:"mainnet"`

	PayPalBaseURL  string `env:"PAYPAL_BASE_URL" envDefault:"https://api-m.sandbox.paypal.com"`
	PayPalClientID string `env:"PAYPAL_CLIENT_ID"`
	PayPalSecret   string `env:"PAYPAL_CLIENT_SECRET"`

	PaymentContractAddress string `env:"PAYMENT_PROCESSOR_ADDRESS"`
	// Price in wei charged per distinct ascended item type.
	WeiPerAscension string `env:"WEI_PER_ASCENSION" envDefault:"5500000000000000"`
	EtherGasLimit   uint64 `env:"ETHER_GAS_LIMIT" envDefault:"3000000"`
}

// Load parses the environment and validates cross-field constraints.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot serve checkout at all.
func (c *Config) Validate() error {
	if c.CheckoutEnabled && !c.PayPalEnabled && !c.EtherEnabled {
		return errors.New("config: checkout enabled but no payment method available")
	}
	if c.PayPalEnabled && (c.PayPalClientID == "" || c.PayPalSecret == "") {
		return errors.New("config: paypal enabled without credentials")
	}
	if c.GameAdminUsername == "" || c.GameAdminPassword == "" {
		return errors.New("config: game administrator credentials are required")
	}
	if c.GameTokenPublicKey == "" {
		return errors.New("config: game token public key is required")
	}
	if _, err := decimal.NewFromString(c.AscensionCost); err != nil {
		return fmt.Errorf("config: ascension cost: %w", err)
	}
	return nil
}

// AscensionUnitCost returns the fixed per-item-type ascension fee. Validate
// guarantees the configured value parses.
func (c *Config) AscensionUnitCost() decimal.Decimal {
	cost, _ := decimal.NewFromString(c.AscensionCost)
	return cost
}
