package pubsub

import (
	"context"
	"sync"

	"github.com/thymos-ai/thymos/internal/tlog"
)

// subscriberBufferSize bounds how many undelivered messages a slow
// subscriber may accumulate before it is evicted, following the teacher's
// own firehose fan-out sizing.
const subscriberBufferSize = 256

type localSubscriber struct {
	topic   string
	ch      chan Message
	handler Handler
	done    chan struct{}
}

// LocalBus is in-process, per-topic channel fan-out with no persistence.
// Ordering is per-producer, per-topic: a single goroutine drains each
// subscriber's channel in arrival order, so a slow handler stalls only
// that subscriber, not the publisher or other subscribers.
type LocalBus struct {
	metrics *Metrics

	mu   sync.RWMutex
	subs map[string]map[*localSubscriber]struct{} // topic -> subscribers
}

// NewLocalBus constructs a Local backend. metrics may be nil.
func NewLocalBus(metrics *Metrics) *LocalBus {
	return &LocalBus{
		metrics: metrics,
		subs:    make(map[string]map[*localSubscriber]struct{}),
	}
}

func (b *LocalBus) IsDistributed() bool      { return false }
func (b *LocalBus) BackendType() BackendType { return Local }

// Publish fans a message out to every subscriber of topic. Delivery is
// asynchronous from the caller's perspective: Publish returns once the
// message has been queued to each subscriber's channel, never waiting on
// handler execution.
func (b *LocalBus) Publish(ctx context.Context, topic string, msg Message) error {
	msg = msg.withDefaults()
	msg.Topic = topic

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[topic] {
		select {
		case sub.ch <- msg:
		default:
			// Slow consumer: evict rather than block the publisher or other
			// subscribers, matching the teacher's broadcast behavior.
			b.evict(topic, sub)
		}
	}
	return nil
}

// Subscribe registers handler for topic and starts a dedicated delivery
// goroutine that invokes it for each queued message in arrival order,
// recovering any panic so it cannot take down the bus.
func (b *LocalBus) Subscribe(ctx context.Context, topic string, handler Handler) (SubscriptionHandle, error) {
	sub := &localSubscriber{
		topic:   topic,
		ch:      make(chan Message, subscriberBufferSize),
		handler: handler,
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*localSubscriber]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.subscriptionOpened(topic)
	}

	go b.deliver(ctx, sub)

	return &localHandle{bus: b, sub: sub}, nil
}

func (b *LocalBus) deliver(ctx context.Context, sub *localSubscriber) {
	for {
		select {
		case msg, ok := <-sub.ch:
			if !ok {
				return
			}
			b.invoke(ctx, sub.topic, sub.handler, msg)
		case <-sub.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (b *LocalBus) invoke(ctx context.Context, topic string, handler Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			tlog.ErrorLog.Printf("pubsub: handler panic on topic %q: %v", topic, r)
			if b.metrics != nil {
				b.metrics.handlerError(topic)
			}
		}
	}()
	handler(ctx, msg)
}

func (b *LocalBus) evict(topic string, sub *localSubscriber) {
	go func() {
		b.mu.Lock()
		if subs, ok := b.subs[topic]; ok {
			if _, present := subs[sub]; present {
				delete(subs, sub)
				close(sub.done)
			}
		}
		b.mu.Unlock()
		if b.metrics != nil {
			b.metrics.subscriberEvicted(topic)
		}
	}()
}

type localHandle struct {
	bus  *LocalBus
	sub  *localSubscriber
	once sync.Once
}

func (h *localHandle) Unsubscribe() {
	h.once.Do(func() {
		h.bus.mu.Lock()
		if subs, ok := h.bus.subs[h.sub.topic]; ok {
			delete(subs, h.sub)
		}
		h.bus.mu.Unlock()
		close(h.sub.done)
		if h.bus.metrics != nil {
			h.bus.metrics.subscriptionClosed(h.sub.topic)
		}
	})
}

var _ Bus = (*LocalBus)(nil)
