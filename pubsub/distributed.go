package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thymos-ai/thymos/errs"
	"github.com/thymos-ai/thymos/internal/tlog"
)

// distributedSchema creates the durable message log. seq is the delivery
// cursor: subscribers replay everything with seq > their last-seen value.
const distributedSchema = `
CREATE TABLE IF NOT EXISTS pubsub_messages (
	seq             BIGSERIAL PRIMARY KEY,
	topic           TEXT NOT NULL,
	message_id      TEXT NOT NULL,
	payload         JSONB NOT NULL,
	published_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS pubsub_messages_topic_seq_idx ON pubsub_messages (topic, seq);
`

// pollInterval bounds how long a subscriber may go without noticing a new
// message when its LISTEN/NOTIFY wakeup is missed (e.g. a dropped
// connection that silently reconnected).
const pollInterval = 2 * time.Second

// DistributedBus is a Postgres-durable backend: every Publish is committed
// to pubsub_messages before returning, and each subscriber drains rows
// past its last-seen seq. The cursor lives in memory only, so a new
// subscription starts at the topic's current max seq and earlier messages
// are not delivered to it. A drain that fails part-way is retried from the
// old cursor, so a handler can see a message twice; message_id lets a
// consumer deduplicate it.
type DistributedBus struct {
	pool    *pgxpool.Pool
	metrics *Metrics
}

// NewDistributedBus opens a DistributedBus against pool, creating its
// schema if absent. metrics may be nil.
func NewDistributedBus(ctx context.Context, pool *pgxpool.Pool, metrics *Metrics) (*DistributedBus, error) {
	if _, err := pool.Exec(ctx, distributedSchema); err != nil {
		return nil, errs.E("pubsub.NewDistributedBus", errs.Resource, "create schema", err)
	}
	return &DistributedBus{pool: pool, metrics: metrics}, nil
}

func (b *DistributedBus) IsDistributed() bool      { return true }
func (b *DistributedBus) BackendType() BackendType { return Distributed }

// Publish durably appends msg to the topic's log, then notifies any
// listening subscribers via Postgres NOTIFY.
func (b *DistributedBus) Publish(ctx context.Context, topic string, msg Message) error {
	start := time.Now()
	msg = msg.withDefaults()
	msg.Topic = topic

	payload, err := json.Marshal(msg)
	if err != nil {
		return errs.E("pubsub.Publish", errs.Validation, "marshal message content", err)
	}

	var seq int64
	err = b.pool.QueryRow(ctx,
		`INSERT INTO pubsub_messages (topic, message_id, payload) VALUES ($1, $2, $3) RETURNING seq`,
		topic, msg.MessageID, payload,
	).Scan(&seq)
	if err != nil {
		if b.metrics != nil {
			b.metrics.publishFailed("distributed")
		}
		return errs.E("pubsub.Publish", errs.Transport, "insert message", err)
	}

	if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel(topic), fmt.Sprintf("%d", seq)); err != nil {
		// NOTIFY failure only delays delivery to live subscribers; the poll
		// loop still picks the row up, so this is non-fatal.
		tlog.WarningLog.Printf("pubsub: pg_notify failed for topic %q: %v", topic, err)
	}

	if b.metrics != nil {
		b.metrics.observePublishLatency("distributed", time.Since(start).Seconds())
	}
	return nil
}

// Subscribe starts a poll loop for topic: it takes the topic's current max
// seq as its starting cursor (so a subscriber never sees history older
// than its own subscription time, mirroring Local's no-replay-of-the-past
// semantics), then delivers newly inserted rows every pollInterval, using
// LISTEN/NOTIFY as a low-latency wakeup when available.
func (b *DistributedBus) Subscribe(ctx context.Context, topic string, handler Handler) (SubscriptionHandle, error) {
	subCtx, cancel := context.WithCancel(ctx)

	since, err := b.currentMaxSeq(ctx, topic)
	if err != nil {
		cancel()
		return nil, err
	}

	if b.metrics != nil {
		b.metrics.subscriptionOpened(topic)
	}

	go b.listenAndPoll(subCtx, topic, since, handler)

	return &distributedHandle{cancel: cancel, bus: b, topic: topic}, nil
}

func (b *DistributedBus) currentMaxSeq(ctx context.Context, topic string) (int64, error) {
	var since int64
	err := b.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM pubsub_messages WHERE topic = $1`, topic).Scan(&since)
	if err != nil {
		return 0, errs.E("pubsub.Subscribe", errs.Transport, "resolve starting cursor", err)
	}
	return since, nil
}

func (b *DistributedBus) listenAndPoll(ctx context.Context, topic string, since int64, handler Handler) {
	notify := b.listen(ctx, topic)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-notify:
		case <-ticker.C:
		}
		next, err := b.drain(ctx, topic, since, handler)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			tlog.ErrorLog.Printf("pubsub: poll failed for topic %q: %v", topic, err)
			continue
		}
		since = next
	}
}

// listen opens a dedicated LISTEN connection and forwards a signal each
// time a notification arrives. It degrades to a nil (never-fires) channel
// if the listen connection cannot be established, relying on the poll
// ticker instead.
func (b *DistributedBus) listen(ctx context.Context, topic string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		tlog.WarningLog.Printf("pubsub: LISTEN unavailable for topic %q, falling back to polling: %v", topic, err)
		return nil
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgxIdent(notifyChannel(topic))); err != nil {
		conn.Release()
		tlog.WarningLog.Printf("pubsub: LISTEN failed for topic %q, falling back to polling: %v", topic, err)
		return nil
	}

	go func() {
		defer conn.Release()
		for {
			if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
				return
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	return ch
}

func (b *DistributedBus) drain(ctx context.Context, topic string, since int64, handler Handler) (int64, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT seq, payload FROM pubsub_messages WHERE topic = $1 AND seq > $2 ORDER BY seq ASC`,
		topic, since,
	)
	if err != nil {
		return since, errs.E("pubsub.drain", errs.Transport, "query new messages", err)
	}
	defer rows.Close()

	next := since
	for rows.Next() {
		var seq int64
		var payload []byte
		if err := rows.Scan(&seq, &payload); err != nil {
			return next, errs.E("pubsub.drain", errs.Corruption, "scan message row", err)
		}
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return next, errs.E("pubsub.drain", errs.Corruption, "unmarshal message payload", err)
		}
		b.invoke(ctx, topic, handler, msg)
		next = seq
	}
	if err := rows.Err(); err != nil {
		return next, errs.E("pubsub.drain", errs.Transport, "iterate message rows", err)
	}
	return next, nil
}

func (b *DistributedBus) invoke(ctx context.Context, topic string, handler Handler, msg Message) {
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

func notifyChannel(topic string) string {
	return "thymos_pubsub_" + topic
}

// pgxIdent quotes a channel identifier derived from a user-supplied topic
// name for interpolation into a raw LISTEN statement, doubling embedded
// double quotes per Postgres's quoted-identifier rule (the pgx/lib-pq
// quoteIdentifier pattern). Topic names are free-form, so an unescaped `"`
// would break out of the identifier into the LISTEN statement.
func pgxIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

type distributedHandle struct {
	cancel context.CancelFunc
	bus    *DistributedBus
	topic  string
}

func (h *distributedHandle) Unsubscribe() {
	h.cancel()
	if h.bus.metrics != nil {
		h.bus.metrics.subscriptionClosed(h.topic)
	}
}

var _ Bus = (*DistributedBus)(nil)
