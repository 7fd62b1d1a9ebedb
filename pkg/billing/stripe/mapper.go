package stripe

import "github.com/Cloverings1/Sentra-sub000/pkg/entitlement"

// Provider subscription status vocabulary. Anything not listed here falls
// through to the default branch.
const (
	subStatusActive            = "active"
	subStatusTrialing          = "trialing"
	subStatusPastDue           = "past_due"
	subStatusUnpaid            = "unpaid"
	subStatusCanceled          = "canceled"
	subStatusIncomplete        = "incomplete"
	subStatusIncompleteExpired = "incomplete_expired"
	subStatusPaused            = "paused"
)

// MapSubscriptionStatus translates the payment provider's subscription status
// vocabulary into the internal profile status vocabulary. It is total: every
// input, including unrecognized values, maps to exactly one internal status.
// The default branch never grants access - incomplete or ambiguous states
// land on free.
func MapSubscriptionStatus(providerStatus string) entitlement.ProfileStatus {
	switch providerStatus {
	case subStatusActive:
		return entitlement.ProfileStatusActive
	case subStatusTrialing:
		return entitlement.ProfileStatusTrialing
	case subStatusPastDue, subStatusUnpaid:
		return entitlement.ProfileStatusPastDue
	case subStatusCanceled, subStatusIncompleteExpired:
		return entitlement.ProfileStatusCanceled
	default:
		// incomplete, paused, and anything unrecognized
		return entitlement.ProfileStatusFree
	}
}

// EntitlementStatusFor translates a mapped profile status into the
// entitlement status vocabulary used by the current projection.
func EntitlementStatusFor(status entitlement.ProfileStatus) entitlement.Status {
	switch status {
	case entitlement.ProfileStatusActive:
		return entitlement.StatusActive
	case entitlement.ProfileStatusTrialing:
		return entitlement.StatusTrialing
	case entitlement.ProfileStatusPastDue:
		return entitlement.StatusPastDue
	case entitlement.ProfileStatusCanceled:
		return entitlement.StatusCanceled
	default:
		return entitlement.StatusNone
	}
}
