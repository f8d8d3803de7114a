// Package metrics exposes the notifier's Prometheus counters and gauges.
//
// All methods are safe on a nil *Metrics, so components can be built without
// metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the notifier.
type Metrics struct {
	registry          *prometheus.Registry
	eventsEmitted     *prometheus.CounterVec
	eventsSuppressed  *prometheus.CounterVec
	deliveryFailures  *prometheus.CounterVec
	pushNotifications *prometheus.CounterVec
	resolves          *prometheus.CounterVec
	hubRequests       *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	trackedBroadcasts prometheus.Gauge
	pendingReminders  prometheus.Gauge
}

// New creates and registers the notifier metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifier_events_emitted_total",
			Help: "Lifecycle events delivered to the sinks",
		}, []string{"type"}),
		eventsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifier_events_suppressed_total",
			Help: "Lifecycle events dropped because their type is disabled",
		}, []string{"type"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifier_event_delivery_failures_total",
			Help: "Sink deliveries that failed after retries",
		}, []string{"sink", "type"}),
		pushNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifier_push_notifications_total",
			Help: "WebSub push notifications by handling outcome",
		}, []string{"outcome"}),
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifier_resolve_total",
			Help: "Resource resolutions by result",
		}, []string{"result"}),
		hubRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifier_hub_requests_total",
			Help: "WebSub hub requests by mode and result",
		}, []string{"mode", "result"}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "notifier_reconcile_duration_seconds",
			Help:    "Duration of reconciliation ticks",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		trackedBroadcasts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notifier_tracked_broadcasts",
			Help: "Scheduled broadcasts currently tracked",
		}),
		pendingReminders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notifier_pending_reminders",
			Help: "Armed broadcast reminders",
		}),
	}

	registry.MustRegister(
		m.eventsEmitted,
		m.eventsSuppressed,
		m.deliveryFailures,
		m.pushNotifications,
		m.resolves,
		m.hubRequests,
		m.reconcileDuration,
		m.trackedBroadcasts,
		m.pendingReminders,
	)
	return m
}

// EventEmitted counts a delivered event.
func (m *Metrics) EventEmitted(eventType string) {
	if m == nil {
		return
	}
	m.eventsEmitted.WithLabelValues(eventType).Inc()
}

// EventSuppressed counts an event dropped by its disable switch.
func (m *Metrics) EventSuppressed(eventType string) {
	if m == nil {
		return
	}
	m.eventsSuppressed.WithLabelValues(eventType).Inc()
}

// EventDeliveryFailed counts a failed sink delivery.
func (m *Metrics) EventDeliveryFailed(sink, eventType string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(sink, eventType).Inc()
}

// PushNotification counts a handled push by outcome.
func (m *Metrics) PushNotification(outcome string) {
	if m == nil {
		return
	}
	m.pushNotifications.WithLabelValues(outcome).Inc()
}

// Resolve counts a resolution result ("ok", "not_found", "malformed", "transient").
func (m *Metrics) Resolve(result string) {
	if m == nil {
		return
	}
	m.resolves.WithLabelValues(result).Inc()
}

// HubRequest counts a hub subscribe or unsubscribe request.
func (m *Metrics) HubRequest(mode, result string) {
	if m == nil {
		return
	}
	m.hubRequests.WithLabelValues(mode, result).Inc()
}

// ObserveReconcile records the duration of one tick.
func (m *Metrics) ObserveReconcile(d time.Duration) {
	if m == nil {
		return
	}
	m.reconcileDuration.Observe(d.Seconds())
}

// SetTrackedBroadcasts sets the tracked broadcasts gauge.
func (m *Metrics) SetTrackedBroadcasts(n int) {
	if m == nil {
		return
	}
	m.trackedBroadcasts.Set(float64(n))
}

// SetPendingReminders sets the pending reminders gauge.
func (m *Metrics) SetPendingReminders(n int) {
	if m == nil {
		return
	}
	m.pendingReminders.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
