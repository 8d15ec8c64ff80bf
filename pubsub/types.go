// Package pubsub implements the PubSub Coordination Layer: a uniform
// publish/subscribe interface over Local (in-process), Distributed
// (Postgres-durable), and Hybrid backends.
package pubsub

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BackendType identifies which backend a Bus is running on.
type BackendType int

const (
	Local BackendType = iota
	Distributed
	Hybrid
)

func (t BackendType) String() string {
	switch t {
	case Local:
		return "local"
	case Distributed:
		return "distributed"
	case Hybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// Message is the canonical PubSubMessage envelope of §3/§6.6: topic,
// content, origin, timestamp, and a dedup id. Fields match the wire JSON
// exactly (topic, content, from, timestamp, message_id, correlation_id).
type Message struct {
	Topic         string    `json:"topic"`
	Content       any       `json:"content"`
	From          string    `json:"from"`
	Timestamp     time.Time `json:"timestamp"`
	MessageID     string    `json:"message_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// withDefaults fills in MessageID/Timestamp if the caller left them unset,
// matching "message_id (UUID, optional but emitted by the core)".
func (m Message) withDefaults() Message {
	if m.MessageID == "" {
		m.MessageID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return m
}

// Handler processes one delivered message. A panic inside a Handler is
// recovered by the delivering backend and reported through Metrics; it
// never terminates other subscribers.
type Handler func(ctx context.Context, msg Message)

// SubscriptionHandle lets a caller cancel future deliveries. In-flight
// handler invocations are allowed to complete.
type SubscriptionHandle interface {
	Unsubscribe()
}

// Bus is the public contract every backend satisfies.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string, handler Handler) (SubscriptionHandle, error)
	IsDistributed() bool
	BackendType() BackendType
}
