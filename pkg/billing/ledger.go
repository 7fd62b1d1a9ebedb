package billing

import (
	"context"
	"time"
)

// DefaultStaleAfter is how long a "processing" ledger row may sit before a
// redelivery is allowed to reclaim it. It balances "don't reprocess a live
// in-flight handler" against "don't let a crashed handler block retries
// forever".
const DefaultStaleAfter = 10 * time.Minute

// EventStatus is the processing status of a ledger row.
type EventStatus string

const (
	EventStatusProcessing EventStatus = "processing"
	EventStatusSucceeded  EventStatus = "succeeded"
	EventStatusFailed     EventStatus = "failed"
)

// AcquireResult is the outcome of a Ledger.Acquire call.
type AcquireResult int

const (
	// Acquired means the caller owns processing for this event id and must
	// call MarkSucceeded or MarkFailed exactly once.
	Acquired AcquireResult = iota

	// SkipAlreadyProcessed means the event's effects were applied before.
	// The caller must re-acknowledge success to the provider without
	// reapplying any effects.
	SkipAlreadyProcessed

	// SkipInFlight means another worker currently owns processing.
	SkipInFlight
)

// EventMetadata is free-form context recorded alongside a ledger row.
type EventMetadata struct {
	Created  time.Time `json:"created"`
	Livemode bool      `json:"livemode"`
}

// EventRecord is one row of the webhook event ledger. Rows are append-only:
// created on first sight of an event id, updated on every processing attempt,
// never deleted.
type EventRecord struct {
	ID          string
	EventType   string
	Status      EventStatus
	ProcessedAt time.Time
	Metadata    EventMetadata
	Error       *string
}

// Ledger makes webhook effect application idempotent under at-least-once
// delivery. Implementations must use storage-level atomic operations, not
// in-memory locks: handler instances do not share memory.
type Ledger interface {
	// Acquire attempts to take ownership of processing for an event id.
	// A fresh id inserts a processing row and returns Acquired. An existing
	// row returns SkipAlreadyProcessed if succeeded, SkipInFlight if another
	// worker holds a non-stale processing row, and is atomically reclaimed
	// (returning Acquired) when failed or stale.
	Acquire(ctx context.Context, eventID, eventType string, meta EventMetadata) (AcquireResult, error)

	// MarkSucceeded transitions the row to succeeded and clears any error.
	MarkSucceeded(ctx context.Context, eventID string) error

	// MarkFailed transitions the row to failed and stores the cause.
	MarkFailed(ctx context.Context, eventID string, cause error) error
}
