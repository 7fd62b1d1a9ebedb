package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cloverings1/Sentra-sub000/pkg/entitlement"
	"github.com/Cloverings1/Sentra-sub000/storage/memory"
)

const userIDHeader = "X-User-ID"

func newTestHandler(t *testing.T, store *memory.Storage, opts ...func(*Config)) *Handler {
	t.Helper()

	config := Config{
		Store:     store,
		GetUserID: FromHeader(userIDHeader),
	}
	for _, opt := range opts {
		opt(&config)
	}

	h, err := NewHandler(config)
	require.NoError(t, err)
	return h
}

func getAccess(t *testing.T, h *Handler, userID string) (*httptest.ResponseRecorder, AccessResponse) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/v1/access", nil)
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	h.GetAccess(rec, req)

	var resp AccessResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestNewHandler_RequiresStoreAndExtractor(t *testing.T) {
	_, err := NewHandler(Config{GetUserID: FromHeader(userIDHeader)})
	assert.Error(t, err)

	_, err = NewHandler(Config{Store: memory.New()})
	assert.Error(t, err)
}

func TestGetAccess_Unauthenticated(t *testing.T) {
	h := newTestHandler(t, memory.New())

	rec, _ := getAccess(t, h, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetAccess_UnknownUserIsDeniedNotMissing(t *testing.T) {
	h := newTestHandler(t, memory.New())

	rec, resp := getAccess(t, h, "user-unknown")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.HasAccess)
	assert.Equal(t, "none", resp.Plan)
	assert.Nil(t, resp.Trial)
}

func TestGetAccess_ActivePro(t *testing.T) {
	store := memory.New()
	subID := "sub_1"
	end := time.Now().UTC().Add(30 * 24 * time.Hour)
	require.NoError(t, store.UpsertEntitlement(context.Background(), &entitlement.Entitlement{
		UserID:               "user-1",
		Plan:                 entitlement.PlanPro,
		Status:               entitlement.StatusActive,
		StripeSubscriptionID: &subID,
		CurrentPeriodEndsAt:  &end,
	}))
	h := newTestHandler(t, store)

	rec, resp := getAccess(t, h, "user-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.HasAccess)
	assert.True(t, resp.IsPro)
	assert.False(t, resp.IsBeta)
	assert.Equal(t, "pro", resp.Plan)
	assert.Equal(t, "active", resp.Status)
}

func TestGetAccess_TrialingCountdown(t *testing.T) {
	store := memory.New()
	subID := "sub_1"
	trialEnd := time.Now().UTC().Add(5*24*time.Hour + time.Hour)
	require.NoError(t, store.UpsertEntitlement(context.Background(), &entitlement.Entitlement{
		UserID:               "user-1",
		Plan:                 entitlement.PlanPro,
		Status:               entitlement.StatusTrialing,
		StripeSubscriptionID: &subID,
		TrialEndsAt:          &trialEnd,
	}))
	h := newTestHandler(t, store)

	rec, resp := getAccess(t, h, "user-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.HasAccess)
	assert.True(t, resp.IsTrialing)
	require.NotNil(t, resp.Trial)
	assert.Equal(t, 5, resp.Trial.DaysRemaining)
	assert.False(t, resp.Trial.IsExpired)
}

func TestGetAccess_ExpiredTrialDenied(t *testing.T) {
	store := memory.New()
	subID := "sub_1"
	trialEnd := time.Now().UTC().Add(-24 * time.Hour)
	require.NoError(t, store.UpsertEntitlement(context.Background(), &entitlement.Entitlement{
		UserID:               "user-1",
		Plan:                 entitlement.PlanPro,
		Status:               entitlement.StatusTrialing,
		StripeSubscriptionID: &subID,
		TrialEndsAt:          &trialEnd,
	}))
	h := newTestHandler(t, store)

	rec, resp := getAccess(t, h, "user-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.HasAccess)
	require.NotNil(t, resp.Trial)
	assert.True(t, resp.Trial.IsExpired)
	assert.Equal(t, 0, resp.Trial.DaysRemaining)
}

func TestGetAccess_BetaFlagOverrides(t *testing.T) {
	h := newTestHandler(t, memory.New(), func(c *Config) {
		c.BetaAccess = func(r *http.Request) bool {
			return r.Header.Get("X-Beta") == "true"
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/access", nil)
	req.Header.Set(userIDHeader, "user-1")
	req.Header.Set("X-Beta", "true")
	rec := httptest.NewRecorder()
	h.GetAccess(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp AccessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.IsBeta)
	assert.True(t, resp.HasAccess)
}

func TestGetAccess_FoundingLifetime(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.UpsertEntitlement(context.Background(), &entitlement.Entitlement{
		UserID: "user-1",
		Plan:   entitlement.PlanFounding,
		Status: entitlement.StatusActive,
	}))
	h := newTestHandler(t, store)

	rec, resp := getAccess(t, h, "user-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.HasAccess)
	assert.True(t, resp.IsFounding)
	assert.Nil(t, resp.Trial)
}

func TestGetAccess_ProfileOnlyActiveGrants(t *testing.T) {
	// Subscriptions created without user metadata reconcile only into the
	// legacy profile. The derived access must still honor that paid row.
	store := memory.New()
	userID := "user-1"
	subID := "sub_1"
	end := time.Now().UTC().Add(30 * 24 * time.Hour)
	require.NoError(t, store.UpsertProfile(context.Background(), &entitlement.Profile{
		CustomerID:         "cus_1",
		UserID:             &userID,
		SubscriptionStatus: entitlement.ProfileStatusActive,
		SubscriptionID:     &subID,
		CurrentPeriodEnd:   &end,
	}))
	h := newTestHandler(t, store)

	rec, resp := getAccess(t, h, "user-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.HasAccess)
	assert.True(t, resp.IsPro)
	assert.Equal(t, "active", resp.Status)
}

func TestGetAccess_ProfileOnlyDiamondGrants(t *testing.T) {
	store := memory.New()
	userID := "user-1"
	require.NoError(t, store.UpsertProfile(context.Background(), &entitlement.Profile{
		CustomerID:         "cus_1",
		UserID:             &userID,
		SubscriptionStatus: entitlement.ProfileStatusDiamond,
	}))
	h := newTestHandler(t, store)

	rec, resp := getAccess(t, h, "user-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.HasAccess)
	assert.True(t, resp.IsFounding)
}

func TestGetFoundingSlots(t *testing.T) {
	store := memory.New(memory.WithFoundingSlots(10))
	_, err := store.ClaimFoundingSlot(context.Background(), "user-1")
	require.NoError(t, err)
	_, err = store.ClaimFoundingSlot(context.Background(), "user-2")
	require.NoError(t, err)

	h := newTestHandler(t, store)

	req := httptest.NewRequest(http.MethodGet, "/v1/founding-slots", nil)
	rec := httptest.NewRecorder()
	h.GetFoundingSlots(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp FoundingSlotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 10, resp.Total)
	assert.Equal(t, 2, resp.Claimed)
	assert.Equal(t, 8, resp.Remaining)
}

func TestGetAccess_CustomErrorHandler(t *testing.T) {
	called := false
	h := newTestHandler(t, memory.New(), func(c *Config) {
		c.OnError = func(w http.ResponseWriter, _ *http.Request, _ error) {
			called = true
			w.WriteHeader(http.StatusTeapot)
		}
	})

	rec, _ := getAccess(t, h, "")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.True(t, called)
}
