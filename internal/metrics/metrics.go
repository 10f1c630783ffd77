// Package metrics holds the service's Prometheus collectors. A nil *Registry
// is valid and records nothing.
package metrics

import (
	"bytes"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "datalens"

// Registry owns a private Prometheus registry and the collectors registered on it.
type Registry struct {
	reg *prometheus.Registry

	eventsTracked   *prometheus.CounterVec
	productViews    *prometheus.CounterVec
	ordersSynced    *prometheus.CounterVec
	syncDuplicates  prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		eventsTracked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_tracked_total",
				Help:      "Tracked store events by type and outcome.",
			},
			[]string{"event_type", "outcome"},
		),
		productViews: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "product_views_total",
				Help:      "Product views by outcome.",
			},
			[]string{"outcome"},
		),
		ordersSynced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_synced_total",
				Help:      "Orders imported from the source system by sync mode.",
			},
			[]string{"mode"},
		),
		syncDuplicates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_duplicates_total",
				Help:      "Order inserts rejected by the unique order id during sync.",
			},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Histogram of HTTP request durations in seconds.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"route", "method"},
		),
	}
	r.reg.MustRegister(r.eventsTracked, r.productViews, r.ordersSynced, r.syncDuplicates, r.requestDuration)
	return r
}

// Outcome labels.
const (
	Stored   = "stored"
	Disabled = "disabled"
	Invalid  = "invalid"
	Failed   = "failed"
)

func (r *Registry) EventTracked(eventType, outcome string) {
	if r == nil {
		return
	}
	r.eventsTracked.WithLabelValues(eventType, outcome).Inc()
}

func (r *Registry) ProductView(outcome string) {
	if r == nil {
		return
	}
	r.productViews.WithLabelValues(outcome).Inc()
}

func (r *Registry) OrdersSynced(mode string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.ordersSynced.WithLabelValues(mode).Add(float64(n))
}

func (r *Registry) SyncDuplicate() {
	if r == nil {
		return
	}
	r.syncDuplicates.Inc()
}

func (r *Registry) ObserveRequest(route, method string, d time.Duration) {
	if r == nil {
		return
	}
	r.requestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// Expose renders every collector in the Prometheus text format.
func (r *Registry) Expose() ([]byte, error) {
	var buf bytes.Buffer
	if r == nil {
		return buf.Bytes(), nil
	}
	families, err := r.reg.Gather()
	if err != nil {
		return nil, err
	}
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// ContentType is the exposition content type.
func ContentType() string {
	return string(expfmt.NewFormat(expfmt.TypeTextPlain))
}
