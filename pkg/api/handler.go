// Package api exposes the authenticated read side: the derived access state
// and founding-slot availability. All writes flow through the webhook
// pipeline; these endpoints never mutate.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Cloverings1/Sentra-sub000/pkg/billing"
	"github.com/Cloverings1/Sentra-sub000/pkg/entitlement"
)

const maxUserIDLen = 255

// Handler provides HTTP endpoints for access inspection
type Handler struct {
	config Config
}

// GetAccess returns the derived access state for the authenticated user.
//
// A user with no stored rows is not an error: derivation over an empty
// snapshot yields the deny state, so the response is 200 with has_access
// false rather than 404.
func (h *Handler) GetAccess(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return
	}

	snap := entitlement.Snapshot{BetaAccess: h.config.BetaAccess(r)}

	ent, err := h.config.Store.GetEntitlement(ctx, userID)
	switch {
	case err == nil:
		snap.Entitlement = ent
	case errors.Is(err, billing.ErrNotFound):
		// No entitlement row yet; the profile may still grant access.
	default:
		h.handleError(w, r, fmt.Errorf("failed to get entitlement: %w", err), http.StatusInternalServerError)
		h.config.Metrics.RecordAPICall("api", "/access", "error")
		return
	}

	prof, err := h.config.Store.GetProfileByUser(ctx, userID)
	switch {
	case err == nil:
		snap.Profile = prof
	case errors.Is(err, billing.ErrNotFound):
	default:
		h.handleError(w, r, fmt.Errorf("failed to get profile: %w", err), http.StatusInternalServerError)
		h.config.Metrics.RecordAPICall("api", "/access", "error")
		return
	}

	access := entitlement.Derive(snap, h.config.Now())

	h.config.Metrics.RecordAPICall("api", "/access", "success")
	h.config.Metrics.RecordAPICallDuration("api", "/access", time.Since(startTime))

	h.writeJSON(w, http.StatusOK, accessResponse(userID, access))
}

// GetFoundingSlots returns pool availability. Public: it drives the
// "slots remaining" display, so no authentication is required.
func (h *Handler) GetFoundingSlots(w http.ResponseWriter, r *http.Request) {
	claimed, total, err := h.config.Store.CountFoundingSlots(r.Context())
	if err != nil {
		h.handleError(w, r, fmt.Errorf("failed to count founding slots: %w", err), http.StatusInternalServerError)
		h.config.Metrics.RecordAPICall("api", "/founding-slots", "error")
		return
	}

	remaining := total - claimed
	if remaining < 0 {
		remaining = 0
	}

	h.config.Metrics.RecordAPICall("api", "/founding-slots", "success")
	h.writeJSON(w, http.StatusOK, FoundingSlotsResponse{
		Total:     total,
		Claimed:   claimed,
		Remaining: remaining,
	})
}

func accessResponse(userID string, access entitlement.Access) AccessResponse {
	resp := AccessResponse{
		UserID:     userID,
		Plan:       string(access.Plan),
		Status:     string(access.Status),
		IsPro:      access.IsPro,
		IsFounding: access.IsFounding,
		IsBeta:     access.IsBeta,
		IsTrialing: access.IsTrialing,
		HasAccess:  access.HasAccess,
	}
	if access.Trial != nil {
		resp.Trial = &TrialResponse{
			IsTrialing:    access.Trial.IsTrialing,
			IsExpired:     access.Trial.IsExpired,
			DaysRemaining: access.Trial.DaysRemaining,
			TrialEnd:      access.Trial.TrialEnd,
		}
	}
	return resp
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.config.Logger.Warn("failed to encode response",
			billing.Field{Key: "error", Value: err.Error()})
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	errorResponse := map[string]string{
		"error": err.Error(),
	}
	if encodeErr := json.NewEncoder(w).Encode(errorResponse); encodeErr != nil {
		_ = encodeErr
	}
}
