package entitlement

import "time"

// Derive computes the access state for a snapshot at the given instant.
// It is pure and side-effect free: callers re-run it on every row change
// pushed by the notifier and on every clock tick they care about.
//
// Rules, in priority order:
//  1. Beta access (explicit flag or the manual-grant heuristic) always wins.
//  2. Founding plan with status active grants lifetime access, no date checks.
//  3. Pro plan with status active holds while the period end (if any) is in
//     the future.
//  4. Pro plan with status trialing holds while the trial end is in the
//     future.
//  5. Everything else is denied.
//
// Missing or zero trial/period dates never panic: rule 4 degrades to "no
// trial state, no access" when the trial end is absent.
//
// When no entitlement row exists, the legacy profile stands in: its status
// maps onto the same rules (diamond as founding, active and trialing as
// pro). A user reconciled only into the profile projection still gets the
// access their subscription paid for.
func Derive(snap Snapshot, now time.Time) Access {
	ent := snap.Entitlement
	if ent == nil {
		ent = entitlementFromProfile(snap.Profile)
	}
	if ent == nil {
		ent = &Entitlement{Plan: PlanNone, Status: StatusNone}
	}

	access := Access{
		Plan:       ent.Plan,
		Status:     ent.Status,
		IsPro:      ent.Plan == PlanPro,
		IsFounding: ent.Plan == PlanFounding,
		IsBeta:     snap.BetaAccess || isManualGrant(ent),
	}

	// Rule 1: beta overrides everything.
	if access.IsBeta {
		access.HasAccess = true
		return access
	}

	// Rule 2: founding is lifetime access.
	if ent.Plan == PlanFounding && ent.Status == StatusActive {
		access.HasAccess = true
		return access
	}

	if ent.Plan == PlanPro {
		switch ent.Status {
		case StatusActive:
			// Rule 3: no period end means an ongoing subscription.
			if ent.CurrentPeriodEndsAt == nil || ent.CurrentPeriodEndsAt.After(now) {
				access.HasAccess = true
			}
			return access
		case StatusTrialing:
			// Rule 4: a trialing row without a trial end is malformed
			// data; deny rather than grant on ambiguity.
			trial := deriveTrialState(ent.TrialEndsAt, now)
			access.Trial = trial
			if trial != nil {
				access.IsTrialing = trial.IsTrialing
				access.HasAccess = !trial.IsExpired
			}
			return access
		}
	}

	// Rule 5: default deny.
	return access
}

// entitlementFromProfile maps a legacy profile onto the entitlement vocabulary
// so the derivation rules apply unchanged. Diamond profiles are founding
// claims; active and trialing profiles are pro subscriptions carrying their
// own dates. Free and terminal statuses map to nothing: they deny either way.
func entitlementFromProfile(prof *Profile) *Entitlement {
	if prof == nil {
		return nil
	}

	ent := &Entitlement{
		Plan:                 PlanPro,
		StripeSubscriptionID: prof.SubscriptionID,
		TrialEndsAt:          prof.TrialEnd,
		CurrentPeriodEndsAt:  prof.CurrentPeriodEnd,
	}
	if prof.UserID != nil {
		ent.UserID = *prof.UserID
	}

	switch prof.SubscriptionStatus {
	case ProfileStatusDiamond:
		ent.Plan = PlanFounding
		ent.Status = StatusActive
	case ProfileStatusActive:
		ent.Status = StatusActive
	case ProfileStatusTrialing:
		ent.Status = StatusTrialing
	case ProfileStatusPastDue:
		ent.Status = StatusPastDue
	case ProfileStatusCanceled:
		ent.Status = StatusCanceled
	default:
		return nil
	}

	return ent
}

// isManualGrant detects entitlements issued without a real payment: pro and
// active but with no Stripe linkage and no dates. Known to be a fragile
// proxy; see DESIGN.md.
func isManualGrant(ent *Entitlement) bool {
	return ent.Plan == PlanPro &&
		ent.Status == StatusActive &&
		(ent.StripeSubscriptionID == nil || *ent.StripeSubscriptionID == "") &&
		ent.TrialEndsAt == nil &&
		ent.CurrentPeriodEndsAt == nil
}

// deriveTrialState computes the trial countdown. Returns nil when no usable
// trial end exists so the caller renders no trial UI at all.
func deriveTrialState(trialEnd *time.Time, now time.Time) *TrialState {
	if trialEnd == nil || trialEnd.IsZero() {
		return nil
	}

	remaining := trialEnd.Sub(now)
	days := int(remaining.Hours() / 24)
	if days < 0 {
		days = 0
	}

	return &TrialState{
		IsTrialing:    remaining > 0,
		IsExpired:     trialEnd.Before(now),
		DaysRemaining: days,
		TrialEnd:      *trialEnd,
	}
}
