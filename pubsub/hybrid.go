package pubsub

import (
	"context"

	"github.com/thymos-ai/thymos/internal/tlog"
)

// HybridBus composes a Local bus (fast, in-process) with a Distributed bus
// (durable, cross-process) per §4.4.2: a publish is only considered
// successful once the Distributed leg accepts it, since that is the leg
// other processes depend on; the Local leg is delivered best-effort and its
// failure is logged, never returned to the caller. Subscribers receive the
// raw union of both legs' deliveries — Hybrid does not deduplicate on their
// behalf; a caller wanting exactly-once delivery wraps its handler with
// Deduplicate, keyed on MessageID, per §4.4.2's "callers must deduplicate by
// message_id if exactly-once is required."
type HybridBus struct {
	local       *LocalBus
	distributed *DistributedBus
}

// NewHybridBus composes local and distributed into one Bus.
func NewHybridBus(local *LocalBus, distributed *DistributedBus) *HybridBus {
	return &HybridBus{local: local, distributed: distributed}
}

func (b *HybridBus) IsDistributed() bool      { return true }
func (b *HybridBus) BackendType() BackendType { return Hybrid }

// Publish delivers to the distributed leg first; only its error is
// propagated. The local leg is best-effort so same-process subscribers get
// the lowest possible latency without the publisher waiting on Postgres
// round-trips twice.
func (b *HybridBus) Publish(ctx context.Context, topic string, msg Message) error {
	msg = msg.withDefaults()

	if err := b.distributed.Publish(ctx, topic, msg); err != nil {
		return err
	}
	if err := b.local.Publish(ctx, topic, msg); err != nil {
		tlog.WarningLog.Printf("pubsub: hybrid local leg publish failed for topic %q (non-fatal): %v", topic, err)
	}
	return nil
}

// Subscribe registers handler on both legs as-is. A message published while
// this subscriber is active typically arrives twice: once quickly over
// Local, once durably (and possibly again on reconnect) over Distributed.
func (b *HybridBus) Subscribe(ctx context.Context, topic string, handler Handler) (SubscriptionHandle, error) {
	localHandle, err := b.local.Subscribe(ctx, topic, handler)
	if err != nil {
		return nil, err
	}
	distHandle, err := b.distributed.Subscribe(ctx, topic, handler)
	if err != nil {
		localHandle.Unsubscribe()
		return nil, err
	}
	return &hybridHandle{local: localHandle, distributed: distHandle}, nil
}

// Deduplicate wraps handler so each distinct MessageID is delivered at most
// once, for callers on a Hybrid bus that need exactly-once semantics across
// its two legs.
func Deduplicate(handler Handler) Handler {
	guard := newDedupGuard()
	return func(ctx context.Context, msg Message) {
		if !guard.seen(msg.MessageID) {
			handler(ctx, msg)
		}
	}
}

type hybridHandle struct {
	local       SubscriptionHandle
	distributed SubscriptionHandle
}

func (h *hybridHandle) Unsubscribe() {
	h.local.Unsubscribe()
	h.distributed.Unsubscribe()
}

var _ Bus = (*HybridBus)(nil)
