// Package redis provides a Redis pub/sub implementation of the
// billing.Notifier interface. Connected clients subscribe to their own
// channel and re-run access derivation on every message; the access API
// remains the correctness backstop for clients that miss a publish.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultChannelPrefix = "sentra:entitlement:"

// firehoseSuffix names the aggregate channel carrying every change.
const firehoseSuffix = "*"

// Notifier implements billing.Notifier over Redis pub/sub
type Notifier struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis notifier configuration
type Config struct {
	// ChannelPrefix is prepended to the user id to form the per-user
	// channel name (default: "sentra:entitlement:")
	ChannelPrefix string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		ChannelPrefix: defaultChannelPrefix,
	}
}

// changeMessage is the published payload.
type changeMessage struct {
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	ChangedAt time.Time `json:"changed_at"`
}

// New creates a new Redis notifier
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Notifier, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.ChannelPrefix == "" {
		config.ChannelPrefix = defaultChannelPrefix
	}
	return &Notifier{
		client: client,
		config: config,
	}, nil
}

// EntitlementChanged implements billing.Notifier. It publishes to the user's
// channel and to the firehose. Delivery is at-most-once; subscribers treat a
// message as a hint to refetch, never as the state itself.
func (n *Notifier) EntitlementChanged(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	payload, err := json.Marshal(changeMessage{
		UserID:    userID,
		Kind:      "entitlement",
		ChangedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal change message: %w", err)
	}

	if err := n.client.Publish(ctx, n.UserChannel(userID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}

	// Firehose is best effort on top of an already-delivered user publish.
	if err := n.client.Publish(ctx, n.FirehoseChannel(), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to firehose: %w", err)
	}

	return nil
}

// UserChannel returns the channel name for one user's changes.
func (n *Notifier) UserChannel(userID string) string {
	return n.config.ChannelPrefix + userID
}

// FirehoseChannel returns the aggregate channel name.
func (n *Notifier) FirehoseChannel() string {
	return n.config.ChannelPrefix + firehoseSuffix
}
