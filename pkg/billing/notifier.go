package billing

import "context"

// Notifier fans out entitlement-change signals so clients can re-derive
// access with low latency. Delivery is best effort: clients refetch through
// the access API on mount/reconnect as the correctness backstop.
type Notifier interface {
	// EntitlementChanged signals that the entitlement or profile projection
	// for a user was mutated.
	EntitlementChanged(ctx context.Context, userID string) error
}

// NoopNotifier discards all change signals.
type NoopNotifier struct{}

func (n *NoopNotifier) EntitlementChanged(_ context.Context, _ string) error { return nil }
