package stripe

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cloverings1/Sentra-sub000/pkg/billing"
	"github.com/Cloverings1/Sentra-sub000/pkg/entitlement"
	"github.com/Cloverings1/Sentra-sub000/storage/memory"
)

const testWebhookSecret = "whsec_test_secret"

// signPayload produces a Stripe-Signature header value for the given body,
// matching the scheme stripe.ConstructEvent verifies.
func signPayload(secret string, payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// eventBody wraps a data object in a Stripe event envelope.
func eventBody(t *testing.T, eventID, eventType string, obj any) []byte {
	t.Helper()
	raw, err := json.Marshal(obj)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"id":       eventID,
		"object":   "event",
		"type":     eventType,
		"created":  time.Now().Unix(),
		"livemode": false,
		"data":     map[string]any{"object": json.RawMessage(raw)},
	})
	require.NoError(t, err)
	return body
}

type recordingNotifier struct {
	users []string
}

func (n *recordingNotifier) EntitlementChanged(_ context.Context, userID string) error {
	n.users = append(n.users, userID)
	return nil
}

// failingStore wraps the in-memory store and fails profile writes.
type failingStore struct {
	*memory.Storage
}

func (f *failingStore) UpsertProfile(context.Context, *entitlement.Profile) error {
	return fmt.Errorf("store unavailable")
}

func newTestProvider(t *testing.T, opts ...memory.Option) (*Provider, *memory.Storage, *recordingNotifier) {
	t.Helper()

	store := memory.New(opts...)
	notifier := &recordingNotifier{}
	p, err := NewProvider(Config{
		Config: billing.Config{
			Store:    store,
			Ledger:   store,
			Notifier: notifier,
		},
		StripeAPIKey:        "sk_test_123",
		StripeWebhookSecret: testWebhookSecret,
		ProPriceID:          "price_pro",
		FoundingPriceID:     "price_founding",
	})
	require.NoError(t, err)
	return p, store, notifier
}

func postWebhook(t *testing.T, p *Provider, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	p.WebhookHandler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) billing.WebhookResponse {
	t.Helper()
	var resp billing.WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func subscriptionObject(status, userID string) map[string]any {
	obj := map[string]any{
		"id":                   "sub_123",
		"status":               status,
		"customer":             "cus_123",
		"cancel_at_period_end": false,
		"current_period_end":   time.Now().Add(30 * 24 * time.Hour).Unix(),
		"items": map[string]any{
			"data": []map[string]any{
				{"price": map[string]string{"id": "price_pro"}},
			},
		},
	}
	if userID != "" {
		obj["metadata"] = map[string]string{"supabase_user_id": userID}
	}
	return obj
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	p, _, _ := newTestProvider(t)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil)
	rec := httptest.NewRecorder()
	p.WebhookHandler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhook_MissingSecretIsServerFault(t *testing.T) {
	store := memory.New()
	p, err := NewProvider(Config{
		Config:       billing.Config{Store: store, Ledger: store},
		StripeAPIKey: "sk_test_123",
	})
	require.NoError(t, err)

	body := eventBody(t, "evt_1", eventSubscriptionUpdated, subscriptionObject("active", "user-1"))
	rec := postWebhook(t, p, body, signPayload(testWebhookSecret, body))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhook_MissingSignature(t *testing.T) {
	p, store, _ := newTestProvider(t)

	body := eventBody(t, "evt_1", eventSubscriptionUpdated, subscriptionObject("active", "user-1"))
	rec := postWebhook(t, p, body, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	_, ok := store.GetEventRecord("evt_1")
	assert.False(t, ok, "unverified events must not touch the ledger")
}

func TestWebhook_InvalidSignature(t *testing.T) {
	p, store, _ := newTestProvider(t)

	body := eventBody(t, "evt_1", eventSubscriptionUpdated, subscriptionObject("active", "user-1"))
	rec := postWebhook(t, p, body, signPayload("whsec_wrong_secret", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	_, ok := store.GetEventRecord("evt_1")
	assert.False(t, ok)
}

func TestWebhook_TamperedBody(t *testing.T) {
	p, _, _ := newTestProvider(t)

	body := eventBody(t, "evt_1", eventSubscriptionUpdated, subscriptionObject("active", "user-1"))
	sig := signPayload(testWebhookSecret, body)
	tampered := bytes.Replace(body, []byte("user-1"), []byte("user-2"), 1)

	rec := postWebhook(t, p, tampered, sig)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_UnknownEventTypeIgnoredWithoutLedgerWrite(t *testing.T) {
	p, store, _ := newTestProvider(t)

	body := eventBody(t, "evt_1", "invoice.payment_succeeded", map[string]any{"id": "in_1"})
	rec := postWebhook(t, p, body, signPayload(testWebhookSecret, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Received)
	assert.Equal(t, billing.ActionIgnored, resp.Action)

	_, ok := store.GetEventRecord("evt_1")
	assert.False(t, ok, "ignored event types must not create ledger rows")
}

func TestWebhook_SubscriptionCreated_WritesBothProjections(t *testing.T) {
	p, store, notifier := newTestProvider(t)
	ctx := context.Background()

	body := eventBody(t, "evt_1", eventSubscriptionCreated, subscriptionObject("active", "user-1"))
	rec := postWebhook(t, p, body, signPayload(testWebhookSecret, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, billing.ActionProcessed, decodeResponse(t, rec).Action)

	prof, err := store.GetProfileByCustomer(ctx, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, entitlement.ProfileStatusActive, prof.SubscriptionStatus)
	require.NotNil(t, prof.SubscriptionID)
	assert.Equal(t, "sub_123", *prof.SubscriptionID)
	require.NotNil(t, prof.PriceID)
	assert.Equal(t, "price_pro", *prof.PriceID)
	require.NotNil(t, prof.UserID)
	assert.Equal(t, "user-1", *prof.UserID)
	assert.False(t, prof.IsTrialUser)

	ent, err := store.GetEntitlement(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.PlanPro, ent.Plan)
	assert.Equal(t, entitlement.StatusActive, ent.Status)
	require.NotNil(t, ent.CurrentPeriodEndsAt)

	ledgerRec, ok := store.GetEventRecord("evt_1")
	require.True(t, ok)
	assert.Equal(t, billing.EventStatusSucceeded, ledgerRec.Status)

	assert.Equal(t, []string{"user-1"}, notifier.users)
}

func TestWebhook_TrialingSubscription_SetsTrialState(t *testing.T) {
	p, store, _ := newTestProvider(t)
	ctx := context.Background()

	trialEnd := time.Now().Add(7 * 24 * time.Hour).Unix()
	obj := subscriptionObject("trialing", "user-1")
	obj["trial_start"] = time.Now().Unix()
	obj["trial_end"] = trialEnd

	body := eventBody(t, "evt_1", eventSubscriptionCreated, obj)
	rec := postWebhook(t, p, body, signPayload(testWebhookSecret, body))
	require.Equal(t, http.StatusOK, rec.Code)

	prof, err := store.GetProfileByCustomer(ctx, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, entitlement.ProfileStatusTrialing, prof.SubscriptionStatus)
	assert.True(t, prof.IsTrialUser)
	require.NotNil(t, prof.TrialEnd)

	ent, err := store.GetEntitlement(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusTrialing, ent.Status)
	require.NotNil(t, ent.TrialEndsAt)
	assert.Equal(t, trialEnd, ent.TrialEndsAt.Unix())

	// A later transition to active keeps the flag.
	body = eventBody(t, "evt_2", eventSubscriptionUpdated, subscriptionObject("active", "user-1"))
	rec = postWebhook(t, p, body, signPayload(testWebhookSecret, body))
	require.Equal(t, http.StatusOK, rec.Code)

	prof, err = store.GetProfileByCustomer(ctx, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, entitlement.ProfileStatusActive, prof.SubscriptionStatus)
	assert.True(t, prof.IsTrialUser)
}

func TestWebhook_SubscriptionWithoutUserMetadata_ProfileOnly(t *testing.T) {
	p, store, notifier := newTestProvider(t)
	ctx := context.Background()

	body := eventBody(t, "evt_1", eventSubscriptionUpdated, subscriptionObject("active", ""))
	rec := postWebhook(t, p, body, signPayload(testWebhookSecret, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, billing.ActionProcessed, decodeResponse(t, rec).Action)

	_, err := store.GetProfileByCustomer(ctx, "cus_123")
	require.NoError(t, err)

	_, err = store.GetEntitlement(ctx, "user-1")
	assert.ErrorIs(t, err, billing.ErrNotFound)
	assert.Empty(t, notifier.users)
}

func TestWebhook_DuplicateDelivery_EffectsAppliedOnce(t *testing.T) {
	p, store, notifier := newTestProvider(t)

	body := eventBody(t, "evt_1", eventSubscriptionCreated, subscriptionObject("active", "user-1"))
	sig := signPayload(testWebhookSecret, body)

	rec := postWebhook(t, p, body, sig)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, billing.ActionProcessed, decodeResponse(t, rec).Action)

	// Stripe redelivers the exact same event.
	rec = postWebhook(t, p, body, sig)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, billing.ActionAlreadyProcessed, decodeResponse(t, rec).Action)

	ledgerRec, ok := store.GetEventRecord("evt_1")
	require.True(t, ok)
	assert.Equal(t, billing.EventStatusSucceeded, ledgerRec.Status)

	// The notifier fired once, on the first delivery only.
	assert.Equal(t, []string{"user-1"}, notifier.users)
}

func TestWebhook_SubscriptionDeleted_ClearsBothProjections(t *testing.T) {
	p, store, _ := newTestProvider(t)
	ctx := context.Background()

	body := eventBody(t, "evt_1", eventSubscriptionCreated, subscriptionObject("active", "user-1"))
	rec := postWebhook(t, p, body, signPayload(testWebhookSecret, body))
	require.Equal(t, http.StatusOK, rec.Code)

	// Deletion events often arrive without the metadata linkage; the handler
	// recovers the user id from the stored profile.
	obj := subscriptionObject("canceled", "")
	body = eventBody(t, "evt_2", eventSubscriptionDeleted, obj)
	rec = postWebhook(t, p, body, signPayload(testWebhookSecret, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, billing.ActionProcessed, decodeResponse(t, rec).Action)

	prof, err := store.GetProfileByCustomer(ctx, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, entitlement.ProfileStatusFree, prof.SubscriptionStatus)
	assert.Nil(t, prof.SubscriptionID)
	assert.Nil(t, prof.CurrentPeriodEnd)

	ent, err := store.GetEntitlement(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.PlanNone, ent.Plan)
	assert.Equal(t, entitlement.StatusCanceled, ent.Status)
	assert.Nil(t, ent.CurrentPeriodEndsAt)
	assert.Nil(t, ent.TrialEndsAt)
}

func TestWebhook_FoundingCheckout_ClaimsSlot(t *testing.T) {
	p, store, notifier := newTestProvider(t, memory.WithFoundingSlots(3))
	ctx := context.Background()

	session := map[string]any{
		"id":       "cs_1",
		"mode":     "payment",
		"customer": "cus_123",
		"metadata": map[string]string{
			"supabase_user_id": "user-1",
			"plan_type":        "founding",
		},
	}
	body := eventBody(t, "evt_1", eventCheckoutCompleted, session)
	rec := postWebhook(t, p, body, signPayload(testWebhookSecret, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, billing.ActionProcessed, decodeResponse(t, rec).Action)

	claimed, total, err := store.CountFoundingSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
	assert.Equal(t, 3, total)

	prof, err := store.GetProfileByCustomer(ctx, "cus_123")
	require.NoError(t, err)
	assert.Equal(t, entitlement.ProfileStatusDiamond, prof.SubscriptionStatus)
	assert.Nil(t, prof.CurrentPeriodEnd)

	ent, err := store.GetEntitlement(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.PlanFounding, ent.Plan)
	assert.Equal(t, entitlement.StatusActive, ent.Status)

	assert.Equal(t, []string{"user-1"}, notifier.users)
}

func TestWebhook_FoundingCheckout_DuplicateAwardsOneSlot(t *testing.T) {
	p, store, _ := newTestProvider(t, memory.WithFoundingSlots(3))
	ctx := context.Background()

	session := map[string]any{
		"id":       "cs_1",
		"mode":     "payment",
		"customer": "cus_123",
		"metadata": map[string]string{
			"supabase_user_id": "user-1",
			"plan_type":        "founding",
		},
	}
	body := eventBody(t, "evt_1", eventCheckoutCompleted, session)
	sig := signPayload(testWebhookSecret, body)

	rec := postWebhook(t, p, body, sig)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = postWebhook(t, p, body, sig)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, billing.ActionAlreadyProcessed, decodeResponse(t, rec).Action)

	claimed, _, err := store.CountFoundingSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed, "a retried webhook must not grant a second slot")
}

func TestWebhook_FoundingCheckout_Oversold(t *testing.T) {
	p, store, _ := newTestProvider(t, memory.WithFoundingSlots(0))
	ctx := context.Background()

	session := map[string]any{
		"id":       "cs_1",
		"mode":     "payment",
		"customer": "cus_123",
		"metadata": map[string]string{
			"supabase_user_id": "user-1",
			"plan_type":        "founding",
		},
	}
	body := eventBody(t, "evt_1", eventCheckoutCompleted, session)
	rec := postWebhook(t, p, body, signPayload(testWebhookSecret, body))

	// 200 so Stripe stops retrying; the payment stands and the shortfall is
	// an operator problem, not a retry problem.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, billing.ActionNoSlotsAvailable, decodeResponse(t, rec).Action)

	ledgerRec, ok := store.GetEventRecord("evt_1")
	require.True(t, ok)
	assert.Equal(t, billing.EventStatusSucceeded, ledgerRec.Status)

	_, err := store.GetEntitlement(ctx, "user-1")
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestWebhook_NonFoundingCheckout_Ignored(t *testing.T) {
	p, store, _ := newTestProvider(t, memory.WithFoundingSlots(3))
	ctx := context.Background()

	session := map[string]any{
		"id":       "cs_1",
		"mode":     "subscription",
		"customer": "cus_123",
		"metadata": map[string]string{"supabase_user_id": "user-1"},
	}
	body := eventBody(t, "evt_1", eventCheckoutCompleted, session)
	rec := postWebhook(t, p, body, signPayload(testWebhookSecret, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, billing.ActionIgnored, decodeResponse(t, rec).Action)

	claimed, _, err := store.CountFoundingSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, claimed)

	// Handled type: the ledger records the delivery even when the session is
	// not a founding purchase.
	ledgerRec, ok := store.GetEventRecord("evt_1")
	require.True(t, ok)
	assert.Equal(t, billing.EventStatusSucceeded, ledgerRec.Status)
}

func TestWebhook_FoundingCheckout_MissingUserID(t *testing.T) {
	p, store, _ := newTestProvider(t, memory.WithFoundingSlots(3))
	ctx := context.Background()

	session := map[string]any{
		"id":       "cs_1",
		"mode":     "payment",
		"customer": "cus_123",
		"metadata": map[string]string{"plan_type": "founding"},
	}
	body := eventBody(t, "evt_1", eventCheckoutCompleted, session)
	rec := postWebhook(t, p, body, signPayload(testWebhookSecret, body))

	// Acknowledged: retrying cannot conjure the missing linkage.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, billing.ActionProcessed, decodeResponse(t, rec).Action)

	claimed, _, err := store.CountFoundingSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, claimed)
}

func TestWebhook_StoreFailure_MarksLedgerFailed(t *testing.T) {
	store := memory.New()
	p, err := NewProvider(Config{
		Config: billing.Config{
			Store:  &failingStore{Storage: store},
			Ledger: store,
		},
		StripeAPIKey:        "sk_test_123",
		StripeWebhookSecret: testWebhookSecret,
	})
	require.NoError(t, err)

	body := eventBody(t, "evt_1", eventSubscriptionCreated, subscriptionObject("active", "user-1"))
	rec := postWebhook(t, p, body, signPayload(testWebhookSecret, body))

	// 500 keeps Stripe retrying; the failed ledger row is reclaimable.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	ledgerRec, ok := store.GetEventRecord("evt_1")
	require.True(t, ok)
	assert.Equal(t, billing.EventStatusFailed, ledgerRec.Status)
	require.NotNil(t, ledgerRec.Error)
	assert.Contains(t, *ledgerRec.Error, "store unavailable")
}

func TestWebhook_PayloadTooLarge(t *testing.T) {
	p, _, _ := newTestProvider(t)

	body := bytes.Repeat([]byte("a"), maxWebhookBodyBytes+1)
	rec := postWebhook(t, p, body, signPayload(testWebhookSecret, body))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestWebhook_MalformedSubscriptionPayload(t *testing.T) {
	p, store, _ := newTestProvider(t)

	// Verified event whose subscription object has no customer.
	body := eventBody(t, "evt_1", eventSubscriptionUpdated, map[string]any{
		"id":     "sub_123",
		"status": "active",
	})
	rec := postWebhook(t, p, body, signPayload(testWebhookSecret, body))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	ledgerRec, ok := store.GetEventRecord("evt_1")
	require.True(t, ok)
	assert.Equal(t, billing.EventStatusFailed, ledgerRec.Status)
}
