// Package config defines the application configuration read from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/prolessons/pkg/billing"
	"github.com/dmitrymomot/prolessons/pkg/httpserver"
	"github.com/dmitrymomot/prolessons/pkg/pg"
	"github.com/dmitrymomot/prolessons/pkg/redis"
)

// Config is the full application configuration.
type Config struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	Service  string `env:"APP_SERVICE" envDefault:"prolessons"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// PathPrefix is where the payments routes are mounted.
	PathPrefix string `env:"BILLING_PATH_PREFIX" envDefault:"/billing"`

	// ProviderTimeout bounds every payment provider call.
	ProviderTimeout time.Duration `env:"BILLING_PROVIDER_TIMEOUT" envDefault:"30s"`
	// LedgerTTL is how long processed webhook event ids are remembered.
	LedgerTTL time.Duration `env:"BILLING_LEDGER_TTL" envDefault:"720h"`
	// Monotonic refuses webhook updates that move the PRO end date backwards.
	Monotonic bool `env:"BILLING_MONOTONIC" envDefault:"false"`

	Postgres pg.Config
	Redis    redis.Config
	HTTP     httpserver.Config
	Stripe   billing.StripeConfig
	PayPal   billing.PayPalConfig
	Plans    billing.PlansConfig
	Breaker  billing.BreakerConfig
}

var (
	ErrInvalidTimeout   = errors.New("provider timeout must be positive")
	ErrInvalidLedgerTTL = errors.New("ledger ttl must be positive")
)

// Validate checks provider secrets and durations.
func (c *Config) Validate() error {
	if err := c.Stripe.Validate(); err != nil {
		return fmt.Errorf("stripe: %w", err)
	}
	if err := c.PayPal.Validate(); err != nil {
		return fmt.Errorf("paypal: %w", err)
	}
	if c.ProviderTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.LedgerTTL <= 0 {
		return ErrInvalidLedgerTTL
	}
	return nil
}
