// Package postgres provides a PostgreSQL implementation of the billing.Store
// and billing.Ledger interfaces. Ledger acquisition uses an atomic insert
// plus a conditional reclaim update, and the founding-slot claim is a single
// statement with SELECT ... FOR UPDATE SKIP LOCKED row locking, because
// handler instances are stateless and share nothing but the database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Cloverings1/Sentra-sub000/pkg/billing"
	"github.com/Cloverings1/Sentra-sub000/pkg/entitlement"
)

// Storage implements billing.Store and billing.Ledger using PostgreSQL.
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// StaleAfter is the ledger staleness threshold for reclaiming
	// abandoned processing rows.
	StaleAfter time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		StaleAfter:      billing.DefaultStaleAfter,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = billing.DefaultStaleAfter
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Acquire implements billing.Ledger.
//
// Step 1 is an atomic insert: the first delivery of an event id wins it.
// On conflict the existing row decides: succeeded skips, a live processing
// row skips, and a failed or stale processing row is reclaimed with a
// conditional update so that of two racing redeliveries at most one wins.
func (s *Storage) Acquire(
	ctx context.Context, eventID, eventType string, meta billing.EventMetadata,
) (billing.AcquireResult, error) {
	if eventID == "" {
		return 0, fmt.Errorf("event id is required")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_events (id, event_type, status, processed_at, created, livemode)
			VALUES ($1, $2, 'processing', NOW(), $3, $4)
			ON CONFLICT (id) DO NOTHING`,
		eventID, eventType, meta.Created, meta.Livemode)
	if err != nil {
		return 0, fmt.Errorf("failed to insert ledger row: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return billing.Acquired, nil
	}

	// Staleness is judged on the database clock, same as the reclaim below,
	// so the two decisions can never disagree under app/db clock skew.
	var status string
	var stale bool
	err = s.pool.QueryRow(ctx,
		`SELECT status, processed_at < NOW() - make_interval(secs => $2)
			FROM webhook_events WHERE id = $1`,
		eventID, s.config.StaleAfter.Seconds()).Scan(&status, &stale)
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger row: %w", err)
	}

	switch billing.EventStatus(status) {
	case billing.EventStatusSucceeded:
		return billing.SkipAlreadyProcessed, nil
	case billing.EventStatusProcessing:
		if !stale {
			return billing.SkipInFlight, nil
		}
	}

	// Reclaim: the WHERE clause re-checks status and age so a concurrent
	// reclaimer cannot also win. Failed rows are reclaimable immediately
	// (the provider retry exists to reprocess them); processing rows only
	// once stale.
	tag, err = s.pool.Exec(ctx,
		`UPDATE webhook_events
			SET status = 'processing', processed_at = NOW()
			WHERE id = $1
			  AND (status = 'failed'
			       OR (status = 'processing'
			           AND processed_at < NOW() - make_interval(secs => $2)))`,
		eventID, s.config.StaleAfter.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim ledger row: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return billing.Acquired, nil
	}

	// Lost the reclaim race (or a failed row was just retried elsewhere).
	return billing.SkipInFlight, nil
}

// MarkSucceeded implements billing.Ledger.
func (s *Storage) MarkSucceeded(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE webhook_events
			SET status = 'succeeded', processed_at = NOW(), error = NULL
			WHERE id = $1`,
		eventID)
	if err != nil {
		return fmt.Errorf("failed to mark ledger row succeeded: %w", err)
	}
	return nil
}

// MarkFailed implements billing.Ledger.
func (s *Storage) MarkFailed(ctx context.Context, eventID string, cause error) error {
	var msg *string
	if cause != nil {
		m := cause.Error()
		msg = &m
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE webhook_events
			SET status = 'failed', processed_at = NOW(), error = $2
			WHERE id = $1`,
		eventID, msg)
	if err != nil {
		return fmt.Errorf("failed to mark ledger row failed: %w", err)
	}
	return nil
}

// GetEventRecord returns a ledger row, or billing.ErrNotFound.
func (s *Storage) GetEventRecord(ctx context.Context, eventID string) (*billing.EventRecord, error) {
	var rec billing.EventRecord
	var status string

	err := s.pool.QueryRow(ctx,
		`SELECT id, event_type, status, processed_at, created, livemode, error
			FROM webhook_events WHERE id = $1`,
		eventID).Scan(
		&rec.ID,
		&rec.EventType,
		&status,
		&rec.ProcessedAt,
		&rec.Metadata.Created,
		&rec.Metadata.Livemode,
		&rec.Error,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger row: %w", err)
	}

	rec.Status = billing.EventStatus(status)
	return &rec, nil
}

// UpsertProfile implements billing.Store. The sticky is_trial_user flag is
// ORed in SQL so no writer can ever flip it back to false.
func (s *Storage) UpsertProfile(ctx context.Context, p *entitlement.Profile) error {
	if p == nil || p.CustomerID == "" {
		return fmt.Errorf("invalid profile")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles
				(customer_id, user_id, subscription_status, subscription_id, price_id,
				 current_period_end, cancel_at_period_end, trial_start, trial_end,
				 is_trial_user, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
			ON CONFLICT (customer_id) DO UPDATE SET
				user_id = COALESCE(EXCLUDED.user_id, profiles.user_id),
				subscription_status = EXCLUDED.subscription_status,
				subscription_id = EXCLUDED.subscription_id,
				price_id = EXCLUDED.price_id,
				current_period_end = EXCLUDED.current_period_end,
				cancel_at_period_end = EXCLUDED.cancel_at_period_end,
				trial_start = EXCLUDED.trial_start,
				trial_end = EXCLUDED.trial_end,
				is_trial_user = profiles.is_trial_user OR EXCLUDED.is_trial_user,
				updated_at = NOW()`,
		p.CustomerID, p.UserID, string(p.SubscriptionStatus), p.SubscriptionID, p.PriceID,
		p.CurrentPeriodEnd, p.CancelAtPeriodEnd, p.TrialStart, p.TrialEnd, p.IsTrialUser,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// ClearProfile implements billing.Store. user_id and is_trial_user survive.
func (s *Storage) ClearProfile(ctx context.Context, customerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE profiles SET
				subscription_status = 'free',
				subscription_id = NULL,
				price_id = NULL,
				current_period_end = NULL,
				cancel_at_period_end = FALSE,
				trial_start = NULL,
				trial_end = NULL,
				updated_at = NOW()
			WHERE customer_id = $1`,
		customerID)
	if err != nil {
		return fmt.Errorf("failed to clear profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrNotFound
	}
	return nil
}

// SetProfileDiamond implements billing.Store.
func (s *Storage) SetProfileDiamond(ctx context.Context, customerID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (customer_id, subscription_status, updated_at)
			VALUES ($1, 'diamond', NOW())
			ON CONFLICT (customer_id) DO UPDATE SET
				subscription_status = 'diamond',
				subscription_id = NULL,
				price_id = NULL,
				current_period_end = NULL,
				cancel_at_period_end = FALSE,
				trial_start = NULL,
				trial_end = NULL,
				updated_at = NOW()`,
		customerID)
	if err != nil {
		return fmt.Errorf("failed to set profile diamond: %w", err)
	}
	return nil
}

// UpsertEntitlement implements billing.Store.
func (s *Storage) UpsertEntitlement(ctx context.Context, e *entitlement.Entitlement) error {
	if e == nil || e.UserID == "" {
		return fmt.Errorf("invalid entitlement")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO entitlements
				(user_id, plan, status, stripe_subscription_id, trial_ends_at,
				 current_period_ends_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (user_id) DO UPDATE SET
				plan = EXCLUDED.plan,
				status = EXCLUDED.status,
				stripe_subscription_id = EXCLUDED.stripe_subscription_id,
				trial_ends_at = EXCLUDED.trial_ends_at,
				current_period_ends_at = EXCLUDED.current_period_ends_at,
				updated_at = NOW()`,
		e.UserID, string(e.Plan), string(e.Status), e.StripeSubscriptionID,
		e.TrialEndsAt, e.CurrentPeriodEndsAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entitlement: %w", err)
	}
	return nil
}

// ClearEntitlement implements billing.Store. Upsert shape so clearing an
// absent row reconciles to the same no-access baseline.
func (s *Storage) ClearEntitlement(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO entitlements (user_id, plan, status, updated_at)
			VALUES ($1, 'none', 'canceled', NOW())
			ON CONFLICT (user_id) DO UPDATE SET
				plan = 'none',
				status = 'canceled',
				stripe_subscription_id = NULL,
				trial_ends_at = NULL,
				current_period_ends_at = NULL,
				updated_at = NOW()`,
		userID)
	if err != nil {
		return fmt.Errorf("failed to clear entitlement: %w", err)
	}
	return nil
}

// GetEntitlement implements billing.Store.
func (s *Storage) GetEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	var e entitlement.Entitlement
	var plan, status string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, plan, status, stripe_subscription_id, trial_ends_at,
				current_period_ends_at, updated_at
			FROM entitlements WHERE user_id = $1`,
		userID).Scan(
		&e.UserID,
		&plan,
		&status,
		&e.StripeSubscriptionID,
		&e.TrialEndsAt,
		&e.CurrentPeriodEndsAt,
		&e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}

	e.Plan = entitlement.Plan(plan)
	e.Status = entitlement.Status(status)
	return &e, nil
}

// GetProfileByCustomer implements billing.Store.
func (s *Storage) GetProfileByCustomer(ctx context.Context, customerID string) (*entitlement.Profile, error) {
	return s.getProfile(ctx, `customer_id = $1`, customerID)
}

// GetProfileByUser implements billing.Store.
func (s *Storage) GetProfileByUser(ctx context.Context, userID string) (*entitlement.Profile, error) {
	return s.getProfile(ctx, `user_id = $1`, userID)
}

func (s *Storage) getProfile(ctx context.Context, where string, arg any) (*entitlement.Profile, error) {
	var p entitlement.Profile
	var status string

	err := s.pool.QueryRow(ctx,
		`SELECT customer_id, user_id, subscription_status, subscription_id, price_id,
				current_period_end, cancel_at_period_end, trial_start, trial_end, is_trial_user
			FROM profiles WHERE `+where,
		arg).Scan(
		&p.CustomerID,
		&p.UserID,
		&status,
		&p.SubscriptionID,
		&p.PriceID,
		&p.CurrentPeriodEnd,
		&p.CancelAtPeriodEnd,
		&p.TrialStart,
		&p.TrialEnd,
		&p.IsTrialUser,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	p.SubscriptionStatus = entitlement.ProfileStatus(status)
	return &p, nil
}

// ClaimFoundingSlot implements billing.Store.
//
// The claim is one conditional update: the inner SELECT locks the first
// unclaimed row with FOR UPDATE SKIP LOCKED, so concurrent claimants for the
// last slot serialize at the database and exactly one wins. Never
// check-then-claim as two statements - that races.
func (s *Storage) ClaimFoundingSlot(ctx context.Context, userID string) (*entitlement.FoundingSlot, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// One slot per user: a redelivered award for a user who already holds
	// a slot must not consume a second one.
	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM founding_slots WHERE claimed_by_user_id = $1)`,
		userID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing claim: %w", err)
	}
	if exists {
		return nil, billing.ErrSlotAlreadyClaimed
	}

	var slot entitlement.FoundingSlot
	err = tx.QueryRow(ctx,
		`UPDATE founding_slots
			SET claimed_by_user_id = $1, claimed_at = NOW()
			WHERE id = (
				SELECT id FROM founding_slots
				WHERE claimed_by_user_id IS NULL
				ORDER BY id
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING id, claimed_by_user_id, claimed_at`,
		userID).Scan(&slot.ID, &slot.ClaimedByUserID, &slot.ClaimedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrNoSlotsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim founding slot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return &slot, nil
}

// CountFoundingSlots implements billing.Store.
func (s *Storage) CountFoundingSlots(ctx context.Context) (claimed, total int, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE claimed_by_user_id IS NOT NULL), COUNT(*)
			FROM founding_slots`).Scan(&claimed, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count founding slots: %w", err)
	}
	return claimed, total, nil
}
