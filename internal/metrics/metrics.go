// Package metrics exposes prometheus collectors fed by engine notifications
// and the HTTP layer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rewired-gh/betledger/internal/betting"
	"github.com/rewired-gh/betledger/internal/models"
)

// Collector implements betting.Observer and records request metrics.
type Collector struct {
	registry *prometheus.Registry

	eventID      prometheus.Gauge
	phase        prometheus.Gauge
	phaseChanges *prometheus.CounterVec
	winners      prometheus.Counter

	bets       *prometheus.CounterVec
	betVolume  *prometheus.CounterVec
	transfers  *prometheus.CounterVec
	outflow    *prometheus.CounterVec
	operations *prometheus.CounterVec

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

// NewCollector creates a collector on its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "betledger"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.eventID = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "event",
		Name:      "id",
		Help:      "Id of the active event",
	})
	c.phase = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "event",
		Name:      "phase",
		Help:      "Phase of the active event (0=ended, 1=ongoing, 2=betting, 3=settling, 4=settled)",
	})
	c.phaseChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "event",
			Name:      "phase_changes_total",
			Help:      "Phase transitions by target phase",
		},
		[]string{"phase"},
	)
	c.winners = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "event",
		Name:      "winners_declared_total",
		Help:      "Total number of declared winners",
	})

	c.bets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "bets_total",
			Help:      "Total number of placed bets",
		},
		[]string{"participant"},
	)
	// Float counters lose precision above 2^53 units; the ledger itself is exact.
	c.betVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "bet_volume_total",
			Help:      "Approximate staked amount in atomic units",
		},
		[]string{"participant"},
	)
	c.transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "transfers_total",
			Help:      "Total number of transfers out of escrow",
		},
		[]string{"kind"},
	)
	c.outflow = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "outflow_total",
			Help:      "Approximate amount transferred out of escrow in atomic units",
		},
		[]string{"kind"},
	)
	c.operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Engine operations by result kind",
		},
		[]string{"operation", "result"},
	)

	c.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	c.requestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "route"},
	)

	c.registry.MustRegister(
		c.eventID, c.phase, c.phaseChanges, c.winners,
		c.bets, c.betVolume, c.transfers, c.outflow, c.operations,
		c.requests, c.requestLatency,
	)
	return c
}

// Registry returns the underlying prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Sync sets the event gauges from a snapshot, used at startup before any
// notification arrives.
func (c *Collector) Sync(ev models.Event) {
	c.eventID.Set(float64(ev.EventID))
	c.phase.Set(float64(ev.Status))
}

func (c *Collector) PhaseChanged(ev models.Event, _ models.Phase) {
	c.Sync(ev)
	c.phaseChanges.WithLabelValues(ev.Status.String()).Inc()
}

func (c *Collector) WinnerDeclared(models.Event, models.Participant) {
	c.winners.Inc()
}

func (c *Collector) BetPlaced(g models.Gamble) {
	participant := strconv.Itoa(g.ParticipantID)
	c.bets.WithLabelValues(participant).Inc()
	c.betVolume.WithLabelValues(participant).Add(g.Amount.Float64())
}

func (c *Collector) Transferred(t models.Transfer) {
	c.transfers.WithLabelValues(string(t.Kind)).Inc()
	c.outflow.WithLabelValues(string(t.Kind)).Add(t.Amount.Float64())
}

// RecordOperation counts an engine call by its error kind ("ok" on success).
func (c *Collector) RecordOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = betting.KindOf(err)
	}
	c.operations.WithLabelValues(operation, result).Inc()
}

// RecordRequest records one served HTTP request.
func (c *Collector) RecordRequest(method, route string, status int, duration time.Duration) {
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.requestLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

var _ betting.Observer = (*Collector)(nil)
