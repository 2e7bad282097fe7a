package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "giftship"

// CheckoutMetrics records the outcomes of the multi-destination checkout pipeline.
type CheckoutMetrics struct {
	quoteDuration *prometheus.HistogramVec
	quoteAttempts *prometheus.CounterVec
	rateFallbacks *prometheus.CounterVec
	orders        *prometheus.CounterVec
	notifications *prometheus.CounterVec
	retries       *prometheus.CounterVec
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	quoteDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "rate_quote_duration_seconds",
		Help:      "Duration of individual carrier quote attempts in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})
	quoteAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_quote_attempts_total",
		Help:      "Carrier quote attempts by outcome.",
	}, []string{"outcome"})
	rateFallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_fallbacks_total",
		Help:      "Shipping groups that fell back to the flat-rate option.",
	}, []string{"reason"})
	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_creations_total",
		Help:      "Multi-destination order creation attempts by outcome.",
	}, []string{"outcome"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shipping_notifications_total",
		Help:      "Shipping notifications by outcome.",
	}, []string{"outcome"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_retries_total",
		Help:      "Queued notification retries processed by the worker, by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(quoteDuration, quoteAttempts, rateFallbacks, orders, notifications, retries)
	return &CheckoutMetrics{
		quoteDuration: quoteDuration,
		quoteAttempts: quoteAttempts,
		rateFallbacks: rateFallbacks,
		orders:        orders,
		notifications: notifications,
		retries:       retries,
	}
}

// ObserveQuote records one carrier quote attempt.
func (m *CheckoutMetrics) ObserveQuote(outcome string, duration time.Duration) {
	if m == nil || m.quoteAttempts == nil {
		return
	}
	label := normalizeLabel(outcome)
	m.quoteAttempts.WithLabelValues(label).Inc()
	m.quoteDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// IncRateFallback counts a group that received the flat-rate option.
func (m *CheckoutMetrics) IncRateFallback(reason string) {
	if m == nil || m.rateFallbacks == nil {
		return
	}
	m.rateFallbacks.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncOrders counts an order creation outcome (created, replayed, failed).
func (m *CheckoutMetrics) IncOrders(outcome string) {
	if m == nil || m.orders == nil {
		return
	}
	m.orders.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncNotification counts a notification outcome (sent, deferred, skipped).
func (m *CheckoutMetrics) IncNotification(outcome string) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncRetry counts a worker retry outcome (delivered, requeued, dead_lettered).
func (m *CheckoutMetrics) IncRetry(outcome string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
