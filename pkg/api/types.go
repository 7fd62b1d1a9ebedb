package api

import "time"

// AccessResponse is the derived access state for the requesting user.
type AccessResponse struct {
	UserID     string         `json:"user_id"`
	Plan       string         `json:"plan"`
	Status     string         `json:"status"`
	IsPro      bool           `json:"is_pro"`
	IsFounding bool           `json:"is_founding"`
	IsBeta     bool           `json:"is_beta"`
	IsTrialing bool           `json:"is_trialing"`
	Trial      *TrialResponse `json:"trial,omitempty"`
	HasAccess  bool           `json:"has_access"`
}

// TrialResponse is the trial countdown, present only while a trial window is
// known.
type TrialResponse struct {
	IsTrialing    bool      `json:"is_trialing"`
	IsExpired     bool      `json:"is_expired"`
	DaysRemaining int       `json:"days_remaining"`
	TrialEnd      time.Time `json:"trial_end"`
}

// FoundingSlotsResponse reports founding-slot pool availability.
type FoundingSlotsResponse struct {
	Total     int `json:"total"`
	Claimed   int `json:"claimed"`
	Remaining int `json:"remaining"`
}
