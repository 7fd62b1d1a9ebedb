package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/Cloverings1/Sentra-sub000/pkg/billing"
)

// CheckoutURL creates a Stripe Checkout Session for the recurring pro plan
// and returns the URL.
func (p *Provider) CheckoutURL(ctx context.Context, userID string) (string, error) {
	startTime := time.Now()

	if userID == "" {
		return "", billing.ErrUserIDMissing
	}
	if p.proPriceID == "" {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "price_not_configured")
		return "", fmt.Errorf("pro price id not configured")
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(p.proPriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.successURL),
		CancelURL:  stripe.String(p.cancelURL),
	}

	// CRITICAL: the webhook handler finds the entitlement row through this
	// metadata. Omitting it breaks the reconciliation chain silently - the
	// profile would still update by customer id, the entitlement never.
	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata(metadataUserIDKey, userID)
	params.ClientReferenceID = stripe.String(userID)

	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))

	return session.URL, nil
}

// FoundingCheckoutURL creates a Stripe Checkout Session for the one-time
// founding-slot purchase and returns the URL.
func (p *Provider) FoundingCheckoutURL(ctx context.Context, userID string) (string, error) {
	startTime := time.Now()

	if userID == "" {
		return "", billing.ErrUserIDMissing
	}
	if p.foundingPriceID == "" {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "price_not_configured")
		return "", fmt.Errorf("founding price id not configured")
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(p.foundingPriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.successURL),
		CancelURL:  stripe.String(p.cancelURL),
	}

	// One-time payments have no subscription to carry metadata, so the
	// linkage and the founding marker live on the session itself.
	params.Metadata = map[string]string{
		metadataUserIDKey:   userID,
		metadataPlanTypeKey: planTypeFounding,
	}
	params.ClientReferenceID = stripe.String(userID)

	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))

	return session.URL, nil
}

// PortalURL creates a Stripe Customer Portal Session and returns the URL.
// This allows users to manage their subscription, update payment methods, or cancel.
func (p *Provider) PortalURL(ctx context.Context, customerID string) (string, error) {
	startTime := time.Now()

	if customerID == "" {
		p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "customer_not_found")
		return "", fmt.Errorf("customer id is required")
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(p.returnURL),
	}

	session, err := p.stripeClient.V1BillingPortalSessions.Create(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "error")
		p.metrics.RecordAPICallDuration(providerName, "/billing_portal/sessions", time.Since(startTime))
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}

	p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/billing_portal/sessions", time.Since(startTime))

	return session.URL, nil
}
