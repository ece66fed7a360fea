// SPDX-License-Identifier: GPL-3.0-or-later

// Package metrics provides optional Prometheus instrumentation for
// connection, message, and callback-queue activity. Every method has a
// nil-receiver no-op form, so a node that never constructs a
// [Registry] runs identically with metrics off.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a private [prometheus.Registry] with the counters and
// gauges this runtime exposes. A nil *Registry is valid: every method
// below is a no-op on a nil receiver.
type Registry struct {
	reg *prometheus.Registry

	ActiveConnections prometheus.Gauge
	ConnectionsTotal   *prometheus.CounterVec
	MessagesPublished  *prometheus.CounterVec
	MessagesDelivered  *prometheus.CounterVec
	CallbackQueueDepth *prometheus.GaugeVec
	CallbackDuration   *prometheus.HistogramVec
}

// NewRegistry builds and registers a fresh set of collectors in their
// own [prometheus.Registry], independent of the global default
// registry so multiple nodes in one process (as in tests) don't
// collide.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roscore_active_connections",
			Help: "Number of connections currently in the ACTIVE state",
		}),
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roscore_connections_total",
			Help: "Total number of connections accepted, by role",
		}, []string{"role"}),
		MessagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roscore_messages_published_total",
			Help: "Total number of messages published, by topic",
		}, []string{"topic"}),
		MessagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roscore_messages_delivered_total",
			Help: "Total number of messages delivered to subscription callbacks, by topic",
		}, []string{"topic"}),
		CallbackQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roscore_callback_queue_depth",
			Help: "Number of pending entries in a callback queue, by queue name",
		}, []string{"queue"}),
		CallbackDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roscore_callback_duration_seconds",
			Help:    "Time spent running one callback, by queue name",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
	}

	reg.MustRegister(
		r.ActiveConnections,
		r.ConnectionsTotal,
		r.MessagesPublished,
		r.MessagesDelivered,
		r.CallbackQueueDepth,
		r.CallbackDuration,
	)
	return r
}

// Handler returns an HTTP handler exposing r's collectors in the
// Prometheus exposition format. A nil r serves an empty registry.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) ConnectionAccepted(role string) {
	if r == nil {
		return
	}
	r.ConnectionsTotal.WithLabelValues(role).Inc()
	r.ActiveConnections.Inc()
}

func (r *Registry) ConnectionDropped() {
	if r == nil {
		return
	}
	r.ActiveConnections.Dec()
}

func (r *Registry) MessagePublished(topic string) {
	if r == nil {
		return
	}
	r.MessagesPublished.WithLabelValues(topic).Inc()
}

func (r *Registry) MessageDelivered(topic string) {
	if r == nil {
		return
	}
	r.MessagesDelivered.WithLabelValues(topic).Inc()
}

func (r *Registry) QueueDepthSet(queue string, depth int) {
	if r == nil {
		return
	}
	r.CallbackQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// Timer times one callback's execution, grouped by queue name for
// CallbackDuration.
type Timer struct {
	r     *Registry
	queue string
	start time.Time
}

// NewTimer starts a timer for queue. Safe on a nil r.
func NewTimer(r *Registry, queue string) *Timer {
	return &Timer{r: r, queue: queue, start: time.Now()}
}

// ObserveDuration records the elapsed time since NewTimer to
// CallbackDuration. A no-op when the timer's registry is nil.
func (t *Timer) ObserveDuration() {
	if t.r == nil {
		return
	}
	t.r.CallbackDuration.WithLabelValues(t.queue).Observe(time.Since(t.start).Seconds())
}
