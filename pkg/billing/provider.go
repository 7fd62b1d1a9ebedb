package billing

import (
	"context"
	"net/http"
)

// Provider is the generic interface a billing backend must implement.
// Keeping it narrow lets the server swap payment providers without touching
// the reconciliation core.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes delivery of
	// billing events. The implementation handles signature verification,
	// ledger acquisition, dispatch, and projection writes internally.
	WebhookHandler() http.Handler

	// CheckoutURL creates a hosted checkout session for the recurring plan
	// and returns its redirect URL. Implementations must attach the
	// application user id to the subscription metadata - that linkage is
	// what lets the webhook find the entitlement row later.
	CheckoutURL(ctx context.Context, userID string) (string, error)

	// FoundingCheckoutURL creates a one-time-payment checkout session for a
	// founding slot and returns its redirect URL.
	FoundingCheckoutURL(ctx context.Context, userID string) (string, error)

	// PortalURL creates a customer self-service portal session.
	PortalURL(ctx context.Context, customerID string) (string, error)
}

// WebhookResponse is the JSON body acknowledged back to the provider. Any
// outcome that should stop provider retries answers 200 with Received true.
type WebhookResponse struct {
	Received bool   `json:"received"`
	Action   string `json:"action"`
}

// Response action tags.
const (
	ActionProcessed        = "processed"
	ActionIgnored          = "ignored"
	ActionAlreadyProcessed = "already_processed"
	ActionInFlight         = "in_flight"
	ActionNoSlotsAvailable = "no_slots_available"
)
