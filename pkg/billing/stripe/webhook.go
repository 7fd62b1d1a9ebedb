package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/Cloverings1/Sentra-sub000/pkg/billing"
	"github.com/Cloverings1/Sentra-sub000/pkg/billing/internal"
)

// Webhook event types this provider reconciles. Everything else is
// acknowledged as a no-op so the provider stops retrying.
const (
	eventSubscriptionCreated = "customer.subscription.created"
	eventSubscriptionUpdated = "customer.subscription.updated"
	eventSubscriptionDeleted = "customer.subscription.deleted"
	eventCheckoutCompleted   = "checkout.session.completed"
)

// handleWebhook processes incoming Stripe webhook events.
//
// Order matters: signature verification runs against the raw body before any
// JSON parsing, and the ledger is only touched for event types we handle.
// Any response other than 2xx triggers a provider-side retry, so every
// intentional skip answers 200.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// A missing secret is a deployment configuration fault, not a bad
	// request. 500 keeps the provider retrying until the operator fixes it.
	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusInternalServerError)
		p.metrics.RecordWebhookError(providerName, "config_missing")
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	// Handlers decode event.Data.Raw themselves, so a payload shaped by a
	// different API version than the one stripe-go pins is fine here.
	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret),
		stripe.WithIgnoreAPIVersionMismatch())
	if err != nil {
		// Tampered body, wrong secret, missing header, or an expired
		// tolerance window. 400 tells Stripe not to bother retrying this
		// exact request; no side effects, no ledger writes.
		http.Error(w, "invalid signature", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)

	if !p.handlesEventType(eventType) {
		// Unknown types never write ledger state.
		p.respond(w, http.StatusOK, billing.ActionIgnored)
		p.metrics.RecordWebhookEvent(providerName, eventType, billing.ActionIgnored)
		return
	}

	action, status := p.processEvent(r.Context(), &event)
	if status >= http.StatusInternalServerError {
		http.Error(w, "failed to process webhook", status)
	} else {
		p.respond(w, status, action)
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, action)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// processEvent runs the ledger acquire / dispatch / mark cycle for a verified
// event and returns the response action and HTTP status.
func (p *Provider) processEvent(ctx context.Context, event *stripe.Event) (string, int) {
	eventType := string(event.Type)
	meta := billing.EventMetadata{
		Created:  time.Unix(event.Created, 0).UTC(),
		Livemode: event.Livemode,
	}

	result, err := p.ledger.Acquire(ctx, event.ID, eventType, meta)
	if err != nil {
		p.logger.Error("ledger acquire failed",
			billing.Field{Key: "event_id", Value: event.ID},
			billing.Field{Key: "error", Value: err.Error()})
		p.metrics.RecordWebhookError(providerName, "ledger_error")
		return "ledger_error", http.StatusInternalServerError
	}

	switch result {
	case billing.SkipAlreadyProcessed:
		// Effects were applied on a previous delivery. Re-acknowledge
		// without reapplying - this is what prevents a retried webhook
		// from granting two founding slots for one payment.
		p.metrics.RecordLedgerOutcome(providerName, "skip_already_processed")
		return billing.ActionAlreadyProcessed, http.StatusOK
	case billing.SkipInFlight:
		p.metrics.RecordLedgerOutcome(providerName, "skip_in_flight")
		return billing.ActionInFlight, http.StatusOK
	}

	p.metrics.RecordLedgerOutcome(providerName, "acquired")

	action, err := p.dispatchEvent(ctx, event)
	if err != nil {
		if markErr := p.ledger.MarkFailed(ctx, event.ID, err); markErr != nil {
			p.logger.Error("ledger mark failed errored",
				billing.Field{Key: "event_id", Value: event.ID},
				billing.Field{Key: "error", Value: markErr.Error()})
		}
		p.logger.Error("webhook processing failed",
			billing.Field{Key: "event_id", Value: event.ID},
			billing.Field{Key: "event_type", Value: eventType},
			billing.Field{Key: "error", Value: err.Error()})
		p.metrics.RecordWebhookError(providerName, "processing_error")
		return "processing_error", http.StatusInternalServerError
	}

	if err := p.ledger.MarkSucceeded(ctx, event.ID); err != nil {
		// The effects are applied; a redelivery will reclaim the stale
		// processing row and skip on the store's idempotent upserts.
		p.logger.Error("ledger mark succeeded errored",
			billing.Field{Key: "event_id", Value: event.ID},
			billing.Field{Key: "error", Value: err.Error()})
	}

	return action, http.StatusOK
}

// dispatchEvent routes a verified, ledger-owned event to its handler.
func (p *Provider) dispatchEvent(ctx context.Context, event *stripe.Event) (string, error) {
	switch string(event.Type) {
	case eventSubscriptionCreated, eventSubscriptionUpdated:
		return p.handleSubscriptionChange(ctx, event)
	case eventSubscriptionDeleted:
		return p.handleSubscriptionDeleted(ctx, event)
	case eventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, event)
	default:
		return billing.ActionIgnored, nil
	}
}

func (p *Provider) handlesEventType(eventType string) bool {
	switch eventType {
	case eventSubscriptionCreated, eventSubscriptionUpdated, eventSubscriptionDeleted, eventCheckoutCompleted:
		return true
	}
	return false
}

func (p *Provider) respond(w http.ResponseWriter, code int, action string) {
	if err := internal.WriteJSON(w, code, billing.WebhookResponse{Received: true, Action: action}); err != nil {
		p.logger.Warn("failed to write webhook response",
			billing.Field{Key: "error", Value: err.Error()})
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
