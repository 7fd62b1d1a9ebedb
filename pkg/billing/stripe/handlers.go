package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/Cloverings1/Sentra-sub000/pkg/billing"
	"github.com/Cloverings1/Sentra-sub000/pkg/entitlement"
)

// subscriptionPayload is the slice of the subscription envelope this handler
// cares about, decoded straight from event.Data.Raw. Decoding the raw JSON
// keeps us independent of which API version shaped the event.
type subscriptionPayload struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	Customer          json.RawMessage   `json:"customer"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	TrialStart        int64             `json:"trial_start"`
	TrialEnd          int64             `json:"trial_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// checkoutSessionPayload is the slice of the checkout session envelope the
// founding-slot flow needs.
type checkoutSessionPayload struct {
	ID       string            `json:"id"`
	Mode     string            `json:"mode"`
	Customer json.RawMessage   `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}

// customerID handles the two shapes Stripe uses for the customer field: a
// bare id string or an expanded object.
func customerID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func unixPtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// handleSubscriptionChange processes subscription created and updated events.
// It reconciles both projections: the legacy profile keyed by customer id
// always, and the entitlement keyed by user id when the subscription metadata
// carries one.
func (p *Provider) handleSubscriptionChange(ctx context.Context, event *stripe.Event) (string, error) {
	var sub subscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return "", fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}

	custID := customerID(sub.Customer)
	if custID == "" {
		return "", fmt.Errorf("%w: subscription %s has no customer", billing.ErrInvalidWebhookPayload, sub.ID)
	}

	status := MapSubscriptionStatus(sub.Status)

	priceID := ""
	periodEnd := sub.CurrentPeriodEnd
	if len(sub.Items.Data) > 0 {
		priceID = sub.Items.Data[0].Price.ID
		if periodEnd == 0 {
			periodEnd = sub.Items.Data[0].CurrentPeriodEnd
		}
	}

	userID := sub.Metadata[metadataUserIDKey]

	profile := &entitlement.Profile{
		CustomerID:         custID,
		UserID:             strPtrOrNil(userID),
		SubscriptionStatus: status,
		SubscriptionID:     strPtrOrNil(sub.ID),
		PriceID:            strPtrOrNil(priceID),
		CurrentPeriodEnd:   unixPtr(periodEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		TrialStart:         unixPtr(sub.TrialStart),
		TrialEnd:           unixPtr(sub.TrialEnd),
		// Sticky: the store ORs this into true and never resets it.
		IsTrialUser: status == entitlement.ProfileStatusTrialing,
	}

	if err := p.store.UpsertProfile(ctx, profile); err != nil {
		return "", fmt.Errorf("failed to upsert profile: %w", err)
	}

	if userID == "" {
		// Without the metadata linkage the entitlement row can never be
		// reconciled. The profile still updated above, so this failure
		// mode is silent to the user - make it loud for operators.
		p.logger.Warn("subscription has no user id metadata, entitlement not updated",
			billing.Field{Key: "subscription_id", Value: sub.ID},
			billing.Field{Key: "customer_id", Value: custID})
	} else {
		ent := &entitlement.Entitlement{
			UserID:               userID,
			Plan:                 entitlement.PlanPro,
			Status:               EntitlementStatusFor(status),
			StripeSubscriptionID: strPtrOrNil(sub.ID),
			TrialEndsAt:          unixPtr(sub.TrialEnd),
			CurrentPeriodEndsAt:  unixPtr(periodEnd),
			UpdatedAt:            time.Unix(event.Created, 0).UTC(),
		}
		// Best effort: the profile is the durable fallback, so an
		// entitlement write failure is logged, not propagated.
		if err := p.store.UpsertEntitlement(ctx, ent); err != nil {
			p.logger.Error("entitlement upsert failed",
				billing.Field{Key: "user_id", Value: userID},
				billing.Field{Key: "error", Value: err.Error()})
		}
		p.notifyChange(ctx, userID)
	}

	return billing.ActionProcessed, nil
}

// handleSubscriptionDeleted clears both projections to the no-access
// baseline. Leaving a stale period end or plan behind would let a client keep
// granting access after cancellation.
func (p *Provider) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) (string, error) {
	var sub subscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return "", fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}

	custID := customerID(sub.Customer)
	if custID == "" {
		return "", fmt.Errorf("%w: subscription %s has no customer", billing.ErrInvalidWebhookPayload, sub.ID)
	}

	if err := p.store.ClearProfile(ctx, custID); err != nil {
		return "", fmt.Errorf("failed to clear profile: %w", err)
	}

	userID := sub.Metadata[metadataUserIDKey]
	if userID == "" {
		// Fall back to the profile's stored user linkage.
		if prof, err := p.store.GetProfileByCustomer(ctx, custID); err == nil && prof.UserID != nil {
			userID = *prof.UserID
		}
	}

	if userID == "" {
		p.logger.Warn("deleted subscription has no user id, entitlement not cleared",
			billing.Field{Key: "subscription_id", Value: sub.ID},
			billing.Field{Key: "customer_id", Value: custID})
		return billing.ActionProcessed, nil
	}

	if err := p.store.ClearEntitlement(ctx, userID); err != nil {
		p.logger.Error("entitlement clear failed",
			billing.Field{Key: "user_id", Value: userID},
			billing.Field{Key: "error", Value: err.Error()})
	}
	p.notifyChange(ctx, userID)

	return billing.ActionProcessed, nil
}

// handleCheckoutCompleted awards a founding slot for one-time founding
// purchases. Subscription checkouts are reconciled through the subscription
// events, so anything without the founding marker is acknowledged untouched.
func (p *Provider) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) (string, error) {
	var session checkoutSessionPayload
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return "", fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}

	if session.Metadata[metadataPlanTypeKey] != planTypeFounding {
		return billing.ActionIgnored, nil
	}

	userID := session.Metadata[metadataUserIDKey]
	if userID == "" {
		// Payment succeeded but the session was created without the user
		// linkage, so there is nobody to award the slot to. Retrying will
		// not fix it - acknowledge and flag for manual remediation.
		p.logger.Error("founding checkout has no user id metadata, manual grant required",
			billing.Field{Key: "session_id", Value: session.ID})
		p.metrics.RecordFoundingSlotClaim(providerName, "missing_user_id")
		return billing.ActionProcessed, nil
	}

	slot, err := p.store.ClaimFoundingSlot(ctx, userID)
	switch {
	case errors.Is(err, billing.ErrNoSlotsAvailable):
		// Slots ran out between session creation and payment
		// confirmation. Accept the payment, stop retries, and surface an
		// operator warning - refund or manual grant is a human decision.
		p.logger.Warn("founding slots oversold, payment accepted without slot",
			billing.Field{Key: "session_id", Value: session.ID},
			billing.Field{Key: "user_id", Value: userID})
		p.metrics.RecordFoundingSlotClaim(providerName, "no_slots_available")
		return billing.ActionNoSlotsAvailable, nil
	case errors.Is(err, billing.ErrSlotAlreadyClaimed):
		// This user already holds a slot - the award was applied before.
		p.metrics.RecordFoundingSlotClaim(providerName, "already_claimed")
	case err != nil:
		return "", fmt.Errorf("failed to claim founding slot: %w", err)
	default:
		p.metrics.RecordFoundingSlotClaim(providerName, "claimed")
		p.logger.Info("founding slot claimed",
			billing.Field{Key: "slot_id", Value: slot.ID},
			billing.Field{Key: "user_id", Value: userID})
	}

	if custID := customerID(session.Customer); custID != "" {
		// Diamond access has no expiry: period and trial fields cleared.
		if err := p.store.SetProfileDiamond(ctx, custID); err != nil {
			return "", fmt.Errorf("failed to set profile diamond: %w", err)
		}
	}

	ent := &entitlement.Entitlement{
		UserID:    userID,
		Plan:      entitlement.PlanFounding,
		Status:    entitlement.StatusActive,
		UpdatedAt: time.Unix(event.Created, 0).UTC(),
	}
	if err := p.store.UpsertEntitlement(ctx, ent); err != nil {
		p.logger.Error("entitlement upsert failed",
			billing.Field{Key: "user_id", Value: userID},
			billing.Field{Key: "error", Value: err.Error()})
	}
	p.notifyChange(ctx, userID)

	return billing.ActionProcessed, nil
}

// notifyChange fans out a change signal, best effort.
func (p *Provider) notifyChange(ctx context.Context, userID string) {
	if err := p.notifier.EntitlementChanged(ctx, userID); err != nil {
		p.logger.Warn("entitlement change notification failed",
			billing.Field{Key: "user_id", Value: userID},
			billing.Field{Key: "error", Value: err.Error()})
	}
}
