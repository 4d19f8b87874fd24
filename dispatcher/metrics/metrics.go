// Package metrics exports dispatcher counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter holds the dispatcher metric families. A nil *Exporter is a
// valid no-op recorder, so wiring metrics stays optional in tests.
type Exporter struct {
	registry *prometheus.Registry

	turnDuration  *prometheus.HistogramVec
	turns         *prometheus.CounterVec
	escalations   *prometheus.CounterVec
	claims        *prometheus.CounterVec
	bookings      *prometheus.CounterVec
	relayForwards *prometheus.CounterVec
	webhookDrops  *prometheus.CounterVec

	activeSessions prometheus.GaugeFunc
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one).
	Registry *prometheus.Registry

	// ActiveSessions is sampled on scrape; nil leaves the gauge out.
	ActiveSessions func() float64

	// Buckets for the turn duration histogram, in seconds.
	LatencyBuckets []float64
}

func NewExporter(cfg Config) *Exporter {
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	buckets := cfg.LatencyBuckets
	if len(buckets) == 0 {
		buckets = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60}
	}

	e := &Exporter{registry: registry}

	e.turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "relaydesk",
			Subsystem: "dispatcher",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end user turn latency in seconds",
			Buckets:   buckets,
		},
		[]string{"intent"},
	)
	e.turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaydesk",
			Subsystem: "dispatcher",
			Name:      "turns_total",
			Help:      "User turns by classified intent and outcome",
		},
		[]string{"intent", "outcome"},
	)
	e.escalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaydesk",
			Subsystem: "dispatcher",
			Name:      "escalations_total",
			Help:      "Sessions escalated to the agent workspace, by reason",
		},
		[]string{"reason"},
	)
	e.claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaydesk",
			Subsystem: "dispatcher",
			Name:      "claims_total",
			Help:      "Ticket claim attempts by result (won, stale)",
		},
		[]string{"result"},
	)
	e.bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaydesk",
			Subsystem: "dispatcher",
			Name:      "bookings_total",
			Help:      "Demo booking attempts by result",
		},
		[]string{"result"},
	)
	e.relayForwards = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaydesk",
			Subsystem: "dispatcher",
			Name:      "relay_forwards_total",
			Help:      "Messages bridged between surface and workspace, by direction",
		},
		[]string{"direction"},
	)
	e.webhookDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relaydesk",
			Subsystem: "dispatcher",
			Name:      "webhook_drops_total",
			Help:      "Inbound webhook events dropped before processing, by cause",
		},
		[]string{"cause"},
	)

	registry.MustRegister(e.turnDuration, e.turns, e.escalations, e.claims, e.bookings, e.relayForwards, e.webhookDrops)

	if cfg.ActiveSessions != nil {
		e.activeSessions = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "relaydesk",
				Subsystem: "dispatcher",
				Name:      "active_sessions",
				Help:      "Sessions currently in a non-closed state",
			},
			cfg.ActiveSessions,
		)
		registry.MustRegister(e.activeSessions)
	}

	return e
}

// Handler returns the scrape endpoint for this exporter's registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Exporter) RecordTurn(intent, outcome string, duration time.Duration) {
	if e == nil {
		return
	}
	e.turns.WithLabelValues(intent, outcome).Inc()
	e.turnDuration.WithLabelValues(intent).Observe(duration.Seconds())
}

func (e *Exporter) RecordEscalation(reason string) {
	if e == nil {
		return
	}
	e.escalations.WithLabelValues(reason).Inc()
}

func (e *Exporter) RecordClaim(result string) {
	if e == nil {
		return
	}
	e.claims.WithLabelValues(result).Inc()
}

func (e *Exporter) RecordBooking(result string) {
	if e == nil {
		return
	}
	e.bookings.WithLabelValues(result).Inc()
}

func (e *Exporter) RecordRelayForward(direction string) {
	if e == nil {
		return
	}
	e.relayForwards.WithLabelValues(direction).Inc()
}

func (e *Exporter) RecordWebhookDrop(cause string) {
	if e == nil {
		return
	}
	e.webhookDrops.WithLabelValues(cause).Inc()
}
