// Package config loads server configuration from the environment.
package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Storage settings
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// Realtime change notifications. Optional: when unset the server runs
	// without push and clients rely on refetching the access endpoint.
	RedisURL string `envconfig:"REDIS_URL"`

	// Stripe settings
	StripeAPIKey        string `envconfig:"STRIPE_API_KEY" required:"true"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeProPriceID    string `envconfig:"STRIPE_PRO_PRICE_ID"`
	StripeFoundingPrice string `envconfig:"STRIPE_FOUNDING_PRICE_ID"`

	// Checkout redirect targets
	CheckoutSuccessURL string `envconfig:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL  string `envconfig:"CHECKOUT_CANCEL_URL"`
	PortalReturnURL    string `envconfig:"PORTAL_RETURN_URL"`

	// UserIDHeader carries the authenticated user id set by the upstream
	// proxy after token verification.
	UserIDHeader string `envconfig:"USER_ID_HEADER" default:"X-User-ID"`

	// BetaHeader carries the identity-provider beta flag ("true"/"false").
	BetaHeader string `envconfig:"BETA_HEADER" default:"X-Beta-Access"`

	// MetricsNamespace prefixes all Prometheus metric names.
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"sentra"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
