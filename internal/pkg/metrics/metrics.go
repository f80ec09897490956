package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"seatkeeper/internal/pkg/outcome"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ReconcileTotal     *prometheus.CounterVec
	ReconcileDuration  prometheus.Histogram
	SubscriptionEvents *prometheus.CounterVec
	WebhookDeliveries  *prometheus.CounterVec
	InvitationsTotal   *prometheus.CounterVec
	HTTPRequestsTotal  *prometheus.CounterVec
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		ReconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seatkeeper_billing_reconcile_total",
				Help: "Seat quantity reconciliations by outcome",
			},
			[]string{"outcome"},
		),
		ReconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "seatkeeper_billing_reconcile_duration_seconds",
				Help:    "Time spent reconciling one team's seat quantity",
				Buckets: prometheus.DefBuckets,
			},
		),
		SubscriptionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seatkeeper_subscription_events_total",
				Help: "Subscription change events applied, by status and outcome",
			},
			[]string{"status", "outcome"},
		),
		WebhookDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seatkeeper_webhook_deliveries_total",
				Help: "Inbound webhook deliveries by event type and result",
			},
			[]string{"type", "result"},
		),
		InvitationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seatkeeper_invitations_total",
				Help: "Invitation operations by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "seatkeeper_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "status"},
		),
	}

	registry.MustRegister(
		m.ReconcileTotal,
		m.ReconcileDuration,
		m.SubscriptionEvents,
		m.WebhookDeliveries,
		m.InvitationsTotal,
		m.HTTPRequestsTotal,
	)
	return m
}

// RegisterDB exports connection pool statistics for db.
func (m *Metrics) RegisterDB(db *sql.DB) {
	if m == nil {
		return
	}
	m.registry.MustRegister(collectors.NewDBStatsCollector(db, "seatkeeper"))
}

func (m *Metrics) ObserveReconcile(kind outcome.Kind, started time.Time) {
	if m == nil {
		return
	}
	m.ReconcileTotal.WithLabelValues(kind.String()).Inc()
	m.ReconcileDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveSubscriptionEvent(status string, kind outcome.Kind) {
	if m == nil {
		return
	}
	m.SubscriptionEvents.WithLabelValues(status, kind.String()).Inc()
}

func (m *Metrics) ObserveWebhook(eventType, result string) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) ObserveInvitation(action string, kind outcome.Kind) {
	if m == nil {
		return
	}
	m.InvitationsTotal.WithLabelValues(action, kind.String()).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument counts requests served by next under the given route label.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
