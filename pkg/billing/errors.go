package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrNotFound is returned when a profile or entitlement row does not exist
	ErrNotFound = errors.New("record not found")

	// ErrNoSlotsAvailable is returned when the founding-slot pool is exhausted
	ErrNoSlotsAvailable = errors.New("no founding slots available")

	// ErrSlotAlreadyClaimed is returned when a user already holds a founding slot
	ErrSlotAlreadyClaimed = errors.New("founding slot already claimed by user")

	// ErrUserIDMissing is returned when an event carries no application user id
	// in its metadata, breaking the reconciliation linkage
	ErrUserIDMissing = errors.New("user id missing from event metadata")
)
