package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cdp_bridge"

// Metrics holds the bridge collectors on a private registry.
// A nil *Metrics is valid and records nothing, so components can run without it.
type Metrics struct {
	registry               *prometheus.Registry
	PoolConnections        *prometheus.GaugeVec
	PoolAcquireTotal       *prometheus.CounterVec
	CommandsTotal          *prometheus.CounterVec
	CommandDuration        prometheus.Histogram
	LateRepliesTotal       prometheus.Counter
	EventsReceivedTotal    *prometheus.CounterVec
	EventsDroppedTotal     *prometheus.CounterVec
	DomainsEnabled         prometheus.Gauge
	DomainTransitionsTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		PoolConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_connections",
			Help:      "Browser connections in the pool by state",
		}, []string{"state"}),
		PoolAcquireTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_acquire_total",
			Help:      "Connection acquire attempts by outcome",
		}, []string{"outcome"}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "CDP commands sent by method domain and outcome",
		}, []string{"domain", "outcome"}),
		CommandDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Round trip time of CDP commands",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		LateRepliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_replies_total",
			Help:      "Replies that arrived after their command timed out",
		}),
		EventsReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Browser events received by domain",
		}, []string{"domain"}),
		EventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Browser events dropped by reason",
		}, []string{"reason"}),
		DomainsEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "domains_enabled",
			Help:      "Number of CDP domains currently enabled",
		}),
		DomainTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_transitions_total",
			Help:      "Domain enable/disable attempts by domain and operation",
		}, []string{"domain", "op"}),
	}
	r.MustRegister(m.PoolConnections, m.PoolAcquireTotal, m.CommandsTotal, m.CommandDuration,
		m.LateRepliesTotal, m.EventsReceivedTotal, m.EventsDroppedTotal, m.DomainsEnabled, m.DomainTransitionsTotal)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) SetPoolConnections(idle, held int) {
	if m == nil {
		return
	}
	m.PoolConnections.WithLabelValues("idle").Set(float64(idle))
	m.PoolConnections.WithLabelValues("held").Set(float64(held))
}

func (m *Metrics) AcquireOutcome(outcome string) {
	if m == nil {
		return
	}
	m.PoolAcquireTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCommand(domain, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(domain, outcome).Inc()
	m.CommandDuration.Observe(took.Seconds())
}

func (m *Metrics) LateReply() {
	if m == nil {
		return
	}
	m.LateRepliesTotal.Inc()
}

func (m *Metrics) EventReceived(domain string) {
	if m == nil {
		return
	}
	m.EventsReceivedTotal.WithLabelValues(domain).Inc()
}

func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.EventsDroppedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) DomainTransition(domain, op string, enabledNow int) {
	if m == nil {
		return
	}
	m.DomainTransitionsTotal.WithLabelValues(domain, op).Inc()
	m.DomainsEnabled.Set(float64(enabledNow))
}
