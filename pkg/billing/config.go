package billing

import "net/http"

// Config defines the standard configuration all providers should accept
type Config struct {
	// Store persists the profile and entitlement projections and the
	// founding-slot pool (required).
	Store Store

	// Ledger deduplicates webhook event processing (required).
	Ledger Ledger

	// Notifier is an optional change fan-out for client re-derivation.
	// If nil, change signals are silently dropped.
	Notifier Notifier

	// Logger is an optional structured logger. If nil, logging is a no-op.
	Logger Logger

	// Metrics is an optional metrics collector for reconciliation
	// operations. If nil, metrics are silently ignored.
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus metrics.
	Metrics Metrics

	// HTTPClient is an optional HTTP client for provider API calls.
	// If nil, a default client with 10s timeout will be used.
	// Allows custom timeouts, proxies, or instrumentation.
	HTTPClient *http.Client
}
