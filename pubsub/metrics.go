package pubsub

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects PSCL operational counters. It is safe to share a single
// Metrics instance across a Local/Distributed/Hybrid bus pair so that a
// Hybrid deployment reports one unified view.
type Metrics struct {
	handlerErrors        *prometheus.CounterVec
	subscriptionsOpened  *prometheus.CounterVec
	subscriptionsClosed  *prometheus.CounterVec
	subscribersEvicted   *prometheus.CounterVec
	activeSubscriptions  *prometheus.GaugeVec
	publishFailures      *prometheus.CounterVec
	publishLatencySecond *prometheus.HistogramVec
}

// NewMetrics builds a Metrics instance and registers its collectors into
// reg. Passing a fresh prometheus.NewRegistry() keeps PSCL metrics isolated
// from the default global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thymos",
			Subsystem: "pubsub",
			Name:      "handler_errors_total",
			Help:      "Count of subscriber handler panics, by topic.",
		}, []string{"topic"}),
		subscriptionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thymos",
			Subsystem: "pubsub",
			Name:      "subscriptions_opened_total",
			Help:      "Count of subscriptions opened, by topic.",
		}, []string{"topic"}),
		subscriptionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thymos",
			Subsystem: "pubsub",
			Name:      "subscriptions_closed_total",
			Help:      "Count of subscriptions closed via Unsubscribe, by topic.",
		}, []string{"topic"}),
		subscribersEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thymos",
			Subsystem: "pubsub",
			Name:      "subscribers_evicted_total",
			Help:      "Count of subscribers dropped for a full delivery buffer, by topic.",
		}, []string{"topic"}),
		activeSubscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "thymos",
			Subsystem: "pubsub",
			Name:      "active_subscriptions",
			Help:      "Currently open subscriptions, by topic.",
		}, []string{"topic"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thymos",
			Subsystem: "pubsub",
			Name:      "publish_failures_total",
			Help:      "Count of Publish calls that returned an error, by backend.",
		}, []string{"backend"}),
		publishLatencySecond: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "thymos",
			Subsystem: "pubsub",
			Name:      "publish_latency_seconds",
			Help:      "Publish call latency, by backend.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
	}

	reg.MustRegister(
		m.handlerErrors,
		m.subscriptionsOpened,
		m.subscriptionsClosed,
		m.subscribersEvicted,
		m.activeSubscriptions,
		m.publishFailures,
		m.publishLatencySecond,
	)
	return m
}

func (m *Metrics) handlerError(topic string) {
	m.handlerErrors.WithLabelValues(topic).Inc()
}

func (m *Metrics) subscriptionOpened(topic string) {
	m.subscriptionsOpened.WithLabelValues(topic).Inc()
	m.activeSubscriptions.WithLabelValues(topic).Inc()
}

func (m *Metrics) subscriptionClosed(topic string) {
	m.subscriptionsClosed.WithLabelValues(topic).Inc()
	m.activeSubscriptions.WithLabelValues(topic).Dec()
}

func (m *Metrics) subscriberEvicted(topic string) {
	m.subscribersEvicted.WithLabelValues(topic).Inc()
	m.activeSubscriptions.WithLabelValues(topic).Dec()
}

func (m *Metrics) publishFailed(backend string) {
	m.publishFailures.WithLabelValues(backend).Inc()
}

func (m *Metrics) observePublishLatency(backend string, seconds float64) {
	m.publishLatencySecond.WithLabelValues(backend).Observe(seconds)
}
