package billing

import "time"

// Metrics defines the interface for tracking billing reconciliation
// operations. All methods are optional - callers should fall back to
// NoopMetrics when no collector is configured.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the billing provider.
	// eventType: The type of event (e.g., "customer.subscription.updated")
	// action: The response action tag (e.g., "processed", "ignored", "already_processed")
	RecordWebhookEvent(provider, eventType, action string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: The type of error (e.g., "auth_failed", "invalid_payload", "processing_error")
	RecordWebhookError(provider, errorType string)

	// RecordLedgerOutcome records a ledger acquire outcome.
	// outcome: "acquired", "skip_already_processed", "skip_in_flight", "reclaimed"
	RecordLedgerOutcome(provider, outcome string)

	// RecordFoundingSlotClaim records a founding-slot claim attempt.
	// outcome: "claimed", "no_slots_available", "already_claimed"
	RecordFoundingSlotClaim(provider, outcome string)

	// RecordAPICall records an API call to the billing provider.
	// endpoint: The API endpoint called (e.g., "/checkout/sessions")
	// status: Outcome tag (e.g., "success", "error")
	RecordAPICall(provider, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordLedgerOutcome(_, _ string)                              {}
func (n *NoopMetrics) RecordFoundingSlotClaim(_, _ string)                          {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}
