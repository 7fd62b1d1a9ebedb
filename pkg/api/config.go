package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Cloverings1/Sentra-sub000/pkg/billing"
)

// Config holds configuration for the access API handler
type Config struct {
	// Store reads the persisted projections (required)
	Store billing.Store

	// GetUserID extracts the authenticated user id from the request
	// (required). Identity verification happens upstream; this handler
	// trusts whatever the extractor returns.
	GetUserID func(*http.Request) string

	// BetaAccess reports whether the requesting user carries the
	// identity-provider beta flag. If nil, no user is beta.
	BetaAccess func(*http.Request) bool

	// Now overrides the clock used for derivation. If nil, time.Now.
	Now func() time.Time

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional. If nil, logging is disabled.
	Logger billing.Logger

	// Metrics is optional. If nil, metrics are not recorded.
	Metrics billing.Metrics
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// NewHandler creates a new access API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	if config.BetaAccess == nil {
		config.BetaAccess = func(*http.Request) bool { return false }
	}
	if config.Logger == nil {
		config.Logger = &billing.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &billing.NoopMetrics{}
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common UserID extraction patterns

// FromHeader returns a GetUserID function that extracts user ID from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetUserID function that extracts user ID from request context
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}
