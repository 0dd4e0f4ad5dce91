package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "helpscout"

	// ReopenAttemptsName is the fully-qualified reopen counter, read back by the admin stats endpoint.
	ReopenAttemptsName = "helpscout_reconcile_reopen_attempts_total"
	// TicksName is the fully-qualified tick counter.
	TicksName = "helpscout_reconcile_ticks_total"
)

// WebhookMetrics exposes counters/histograms for webhook ingestion.
type WebhookMetrics struct {
	requestsTotal    *prometheus.CounterVec
	schedulesWritten prometheus.Counter
	latency          prometheus.Histogram
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Total inbound Help Scout webhooks by outcome",
		}, []string{"outcome"}),
		schedulesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "schedules_written_total",
			Help:      "Reopen schedules created or overwritten by webhooks",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.schedulesWritten, m.latency)
	return m
}

func (m *WebhookMetrics) ObserveRequest(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.latency.Observe(seconds)
}

func (m *WebhookMetrics) ObserveScheduleWritten() {
	if m == nil {
		return
	}
	m.schedulesWritten.Inc()
}

// ReconcileMetrics exposes counters/histograms for reconciliation ticks.
type ReconcileMetrics struct {
	ticksTotal   *prometheus.CounterVec
	reopenTotal  *prometheus.CounterVec
	tickDuration prometheus.Histogram
	pendingGauge prometheus.Gauge
}

func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	m := &ReconcileMetrics{
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "ticks_total",
			Help:      "Reconciliation ticks by result",
		}, []string{"result"}),
		reopenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "reopen_attempts_total",
			Help:      "Conversation reopen attempts by outcome",
		}, []string{"outcome"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "tick_duration_seconds",
			Help:      "Duration of reconciliation ticks",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
		}),
		pendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "pending_schedules",
			Help:      "Schedules seen by the last tick that were not yet due",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.ticksTotal, m.reopenTotal, m.tickDuration, m.pendingGauge)
	return m
}

func (m *ReconcileMetrics) ObserveTick(result string, seconds float64, notYetDue int) {
	if m == nil {
		return
	}
	m.ticksTotal.WithLabelValues(result).Inc()
	m.tickDuration.Observe(seconds)
	m.pendingGauge.Set(float64(notYetDue))
}

func (m *ReconcileMetrics) ObserveReopen(outcome string) {
	if m == nil {
		return
	}
	m.reopenTotal.WithLabelValues(outcome).Inc()
}
