package billing

import (
	"context"

	"github.com/Cloverings1/Sentra-sub000/pkg/entitlement"
)

// Store persists the two access projections and the founding-slot pool.
// Every write is a reconcile-to-shape upsert so retried webhook deliveries
// compose safely with the ledger's idempotency guarantees.
type Store interface {
	// UpsertProfile reconciles the legacy profile row keyed by customer id.
	// The sticky IsTrialUser flag is ORed into true by the implementation
	// and never reset from this path.
	UpsertProfile(ctx context.Context, p *entitlement.Profile) error

	// ClearProfile resets a profile to the no-access baseline: status free,
	// all Stripe-linked fields null. IsTrialUser is left untouched.
	ClearProfile(ctx context.Context, customerID string) error

	// SetProfileDiamond grants lifetime access on the legacy projection:
	// status diamond with period and trial fields cleared.
	SetProfileDiamond(ctx context.Context, customerID string) error

	// UpsertEntitlement reconciles the entitlement row keyed by user id.
	UpsertEntitlement(ctx context.Context, e *entitlement.Entitlement) error

	// ClearEntitlement resets an entitlement to plan none / status canceled
	// with subscription id, period end, and trial end all null.
	ClearEntitlement(ctx context.Context, userID string) error

	// GetEntitlement returns the entitlement row for a user, or ErrNotFound.
	GetEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error)

	// GetProfileByCustomer returns the profile row for a payment-provider
	// customer id, or ErrNotFound.
	GetProfileByCustomer(ctx context.Context, customerID string) (*entitlement.Profile, error)

	// GetProfileByUser returns the profile row linked to a user id, or
	// ErrNotFound.
	GetProfileByUser(ctx context.Context, userID string) (*entitlement.Profile, error)

	// ClaimFoundingSlot atomically claims one unclaimed slot for the user.
	// The claim is a single conditional update with row-level locking, never
	// a check-then-claim pair. Returns ErrNoSlotsAvailable when the pool is
	// exhausted and ErrSlotAlreadyClaimed when the user already holds one.
	ClaimFoundingSlot(ctx context.Context, userID string) (*entitlement.FoundingSlot, error)

	// CountFoundingSlots reports how many slots are claimed out of the total
	// fixed pool size.
	CountFoundingSlots(ctx context.Context) (claimed, total int, err error)
}
