// Package entitlement defines the persisted access-control projections and the
// pure derivation of a user's access state from them.
package entitlement

import "time"

// Plan is the entitlement plan vocabulary.
type Plan string

const (
	PlanNone     Plan = "none"
	PlanPro      Plan = "pro"
	PlanFounding Plan = "founding"
)

// Status is the entitlement status vocabulary.
type Status string

const (
	StatusNone     Status = "none"
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// ProfileStatus is the legacy profile status vocabulary.
type ProfileStatus string

const (
	ProfileStatusFree     ProfileStatus = "free"
	ProfileStatusTrialing ProfileStatus = "trialing"
	ProfileStatusActive   ProfileStatus = "active"
	ProfileStatusCanceled ProfileStatus = "canceled"
	ProfileStatusPastDue  ProfileStatus = "past_due"
	ProfileStatusDiamond  ProfileStatus = "diamond"
)

// Entitlement is the current-model projection of a user's access, keyed by the
// application user id. One row per user, reconciled by upsert.
type Entitlement struct {
	UserID               string
	Plan                 Plan
	Status               Status
	StripeSubscriptionID *string
	TrialEndsAt          *time.Time
	CurrentPeriodEndsAt  *time.Time
	UpdatedAt            time.Time
}

// Profile is the legacy projection keyed by the payment-provider customer id.
// It predates the entitlement model and is kept as the durable fallback.
type Profile struct {
	CustomerID         string
	UserID             *string
	SubscriptionStatus ProfileStatus
	SubscriptionID     *string
	PriceID            *string
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	TrialStart         *time.Time
	TrialEnd           *time.Time

	// IsTrialUser is sticky: once true it stays true for analytics, even
	// after the trial ends. Writers must OR into true, never assign false.
	IsTrialUser bool
}

// FoundingSlot is one unit of the fixed-size pool granting lifetime access.
// A slot transitions unclaimed -> claimed exactly once and never back.
type FoundingSlot struct {
	ID              int64
	ClaimedByUserID *string
	ClaimedAt       *time.Time
}

// TrialState is the derived trial countdown. It is a projection, not an
// entity: recomputed from the trial end and the current time on every read.
type TrialState struct {
	IsTrialing    bool
	IsExpired     bool
	DaysRemaining int
	TrialEnd      time.Time
}

// Access is the derived access decision for a user at a point in time.
type Access struct {
	Plan       Plan
	Status     Status
	IsPro      bool
	IsFounding bool
	IsBeta     bool
	IsTrialing bool
	Trial      *TrialState
	HasAccess  bool
}

// Snapshot bundles the inputs to Derive: the latest persisted rows plus the
// identity-provider beta flag. Any of the rows may be nil.
type Snapshot struct {
	Entitlement *Entitlement
	Profile     *Profile
	BetaAccess  bool
}
