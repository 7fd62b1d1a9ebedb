package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/Cloverings1/Sentra-sub000/pkg/billing"
	"github.com/Cloverings1/Sentra-sub000/pkg/billing/internal"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBodyBytes      = 256 * 1024

	// metadataUserIDKey links a Stripe object back to the application user.
	// Every checkout session created by this provider carries it; the
	// webhook handler depends on it to find the entitlement row.
	metadataUserIDKey   = "supabase_user_id"
	metadataPlanTypeKey = "plan_type"
	planTypeFounding    = "founding"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Store, Ledger, Logger, Metrics, Notifier)

	// Stripe-specific
	StripeAPIKey        string
	StripeWebhookSecret string

	// ProPriceID is the recurring subscription price.
	ProPriceID string

	// FoundingPriceID is the one-time founding-slot price.
	FoundingPriceID string

	// Checkout redirect targets
	CheckoutSuccessURL string
	CheckoutCancelURL  string
	PortalReturnURL    string
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	store         billing.Store
	ledger        billing.Ledger
	notifier      billing.Notifier
	logger        billing.Logger
	metrics       billing.Metrics
	httpClient    *http.Client
	rateLimiter   *internal.RateLimiter
	stripeClient  *stripe.Client
	webhookSecret []byte
	apiKey        string

	proPriceID      string
	foundingPriceID string
	successURL      string
	cancelURL       string
	returnURL       string
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Store == nil || config.Ledger == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	notifier := config.Notifier
	if notifier == nil {
		notifier = &billing.NoopNotifier{}
	}

	// The webhook secret may legitimately be absent in environments that
	// never receive webhooks (checkout-only workers). The handler answers
	// 500 until it is configured.
	webhookSecret := []byte(strings.TrimSpace(config.StripeWebhookSecret))

	return &Provider{
		store:           config.Store,
		ledger:          config.Ledger,
		notifier:        notifier,
		logger:          logger,
		metrics:         metrics,
		httpClient:      httpClient,
		rateLimiter:     internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		stripeClient:    stripe.NewClient(apiKey),
		webhookSecret:   webhookSecret,
		apiKey:          apiKey,
		proPriceID:      config.ProPriceID,
		foundingPriceID: config.FoundingPriceID,
		successURL:      config.CheckoutSuccessURL,
		cancelURL:       config.CheckoutCancelURL,
		returnURL:       config.PortalReturnURL,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	// Wrap with rate limiting
	return p.rateLimiter.Middleware(handler)
}
