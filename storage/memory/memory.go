// Package memory provides an in-memory implementation of the billing.Store
// and billing.Ledger interfaces. It is primarily intended for testing and
// local development; the atomicity guarantees only hold within one process.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Cloverings1/Sentra-sub000/pkg/billing"
	"github.com/Cloverings1/Sentra-sub000/pkg/entitlement"
)

// Storage implements billing.Store and billing.Ledger using in-memory maps.
type Storage struct {
	mu           sync.Mutex
	profiles     map[string]*entitlement.Profile    // keyed by customer id
	entitlements map[string]*entitlement.Entitlement // keyed by user id
	slots        []*entitlement.FoundingSlot
	events       map[string]*billing.EventRecord

	staleAfter time.Duration

	// now is injectable for stale-reclaim tests.
	now func() time.Time
}

// Option customizes a Storage.
type Option func(*Storage)

// WithFoundingSlots provisions a fixed pool of n unclaimed slots.
func WithFoundingSlots(n int) Option {
	return func(s *Storage) {
		s.slots = make([]*entitlement.FoundingSlot, n)
		for i := range s.slots {
			s.slots[i] = &entitlement.FoundingSlot{ID: int64(i + 1)}
		}
	}
}

// WithStaleAfter overrides the ledger staleness threshold.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Storage) { s.staleAfter = d }
}

// WithNowFunc overrides the clock. Tests use this to age ledger rows.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Storage) { s.now = now }
}

// New creates a new in-memory storage adapter.
func New(opts ...Option) *Storage {
	s := &Storage{
		profiles:     make(map[string]*entitlement.Profile),
		entitlements: make(map[string]*entitlement.Entitlement),
		events:       make(map[string]*billing.EventRecord),
		staleAfter:   billing.DefaultStaleAfter,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire implements billing.Ledger.
func (s *Storage) Acquire(
	_ context.Context, eventID, eventType string, meta billing.EventMetadata,
) (billing.AcquireResult, error) {
	if eventID == "" {
		return 0, fmt.Errorf("event id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	rec, exists := s.events[eventID]
	if !exists {
		s.events[eventID] = &billing.EventRecord{
			ID:          eventID,
			EventType:   eventType,
			Status:      billing.EventStatusProcessing,
			ProcessedAt: now,
			Metadata:    meta,
		}
		return billing.Acquired, nil
	}

	switch rec.Status {
	case billing.EventStatusSucceeded:
		return billing.SkipAlreadyProcessed, nil
	case billing.EventStatusProcessing:
		if now.Sub(rec.ProcessedAt) < s.staleAfter {
			return billing.SkipInFlight, nil
		}
	}

	// Failed or stale processing: reclaim.
	rec.Status = billing.EventStatusProcessing
	rec.ProcessedAt = now
	return billing.Acquired, nil
}

// MarkSucceeded implements billing.Ledger.
func (s *Storage) MarkSucceeded(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.events[eventID]
	if !ok {
		return fmt.Errorf("ledger row %s not found", eventID)
	}
	rec.Status = billing.EventStatusSucceeded
	rec.ProcessedAt = s.now()
	rec.Error = nil
	return nil
}

// MarkFailed implements billing.Ledger.
func (s *Storage) MarkFailed(_ context.Context, eventID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.events[eventID]
	if !ok {
		return fmt.Errorf("ledger row %s not found", eventID)
	}
	rec.Status = billing.EventStatusFailed
	rec.ProcessedAt = s.now()
	if cause != nil {
		msg := cause.Error()
		rec.Error = &msg
	}
	return nil
}

// GetEventRecord returns a copy of a ledger row. Test helper.
func (s *Storage) GetEventRecord(eventID string) (*billing.EventRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.events[eventID]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// UpsertProfile implements billing.Store.
func (s *Storage) UpsertProfile(_ context.Context, p *entitlement.Profile) error {
	if p == nil || p.CustomerID == "" {
		return fmt.Errorf("invalid profile")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	if existing, ok := s.profiles[p.CustomerID]; ok {
		// Sticky flag: OR into true, never back to false.
		cp.IsTrialUser = cp.IsTrialUser || existing.IsTrialUser
		if cp.UserID == nil {
			cp.UserID = existing.UserID
		}
	}
	s.profiles[p.CustomerID] = &cp
	return nil
}

// ClearProfile implements billing.Store.
func (s *Storage) ClearProfile(_ context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.profiles[customerID]
	if !ok {
		return billing.ErrNotFound
	}

	existing.SubscriptionStatus = entitlement.ProfileStatusFree
	existing.SubscriptionID = nil
	existing.PriceID = nil
	existing.CurrentPeriodEnd = nil
	existing.CancelAtPeriodEnd = false
	existing.TrialStart = nil
	existing.TrialEnd = nil
	// UserID and IsTrialUser survive the clear.
	return nil
}

// SetProfileDiamond implements billing.Store.
func (s *Storage) SetProfileDiamond(_ context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.profiles[customerID]
	if !ok {
		existing = &entitlement.Profile{CustomerID: customerID}
		s.profiles[customerID] = existing
	}

	existing.SubscriptionStatus = entitlement.ProfileStatusDiamond
	existing.SubscriptionID = nil
	existing.PriceID = nil
	existing.CurrentPeriodEnd = nil
	existing.CancelAtPeriodEnd = false
	existing.TrialStart = nil
	existing.TrialEnd = nil
	return nil
}

// UpsertEntitlement implements billing.Store.
func (s *Storage) UpsertEntitlement(_ context.Context, e *entitlement.Entitlement) error {
	if e == nil || e.UserID == "" {
		return fmt.Errorf("invalid entitlement")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	s.entitlements[e.UserID] = &cp
	return nil
}

// ClearEntitlement implements billing.Store.
func (s *Storage) ClearEntitlement(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entitlements[userID]
	if !ok {
		// Clearing an absent row reconciles to the same shape.
		s.entitlements[userID] = &entitlement.Entitlement{
			UserID:    userID,
			Plan:      entitlement.PlanNone,
			Status:    entitlement.StatusCanceled,
			UpdatedAt: s.now(),
		}
		return nil
	}

	existing.Plan = entitlement.PlanNone
	existing.Status = entitlement.StatusCanceled
	existing.StripeSubscriptionID = nil
	existing.TrialEndsAt = nil
	existing.CurrentPeriodEndsAt = nil
	existing.UpdatedAt = s.now()
	return nil
}

// GetEntitlement implements billing.Store.
func (s *Storage) GetEntitlement(_ context.Context, userID string) (*entitlement.Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entitlements[userID]
	if !ok {
		return nil, billing.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// GetProfileByCustomer implements billing.Store.
func (s *Storage) GetProfileByCustomer(_ context.Context, customerID string) (*entitlement.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[customerID]
	if !ok {
		return nil, billing.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// GetProfileByUser implements billing.Store.
func (s *Storage) GetProfileByUser(_ context.Context, userID string) (*entitlement.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.profiles {
		if p.UserID != nil && *p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, billing.ErrNotFound
}

// ClaimFoundingSlot implements billing.Store. The whole claim runs under one
// lock, the in-process equivalent of a single conditional update.
func (s *Storage) ClaimFoundingSlot(_ context.Context, userID string) (*entitlement.FoundingSlot, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, slot := range s.slots {
		if slot.ClaimedByUserID != nil && *slot.ClaimedByUserID == userID {
			return nil, billing.ErrSlotAlreadyClaimed
		}
	}

	for _, slot := range s.slots {
		if slot.ClaimedByUserID == nil {
			uid := userID
			at := s.now()
			slot.ClaimedByUserID = &uid
			slot.ClaimedAt = &at
			cp := *slot
			return &cp, nil
		}
	}

	return nil, billing.ErrNoSlotsAvailable
}

// CountFoundingSlots implements billing.Store.
func (s *Storage) CountFoundingSlots(_ context.Context) (claimed, total int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, slot := range s.slots {
		if slot.ClaimedByUserID != nil {
			claimed++
		}
	}
	return claimed, len(s.slots), nil
}

// Slots returns a copy of the pool. Test helper.
func (s *Storage) Slots() []entitlement.FoundingSlot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entitlement.FoundingSlot, len(s.slots))
	for i, slot := range s.slots {
		out[i] = *slot
	}
	return out
}
