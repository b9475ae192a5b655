// Package metrics holds the bot's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "joingate"

// Metrics is registered on its own registry so tests and the debug server
// never collide with the global default.
type Metrics struct {
	Registry *prometheus.Registry

	JoinRequests       prometheus.Counter
	BlockEvents        *prometheus.CounterVec
	BroadcastRuns      *prometheus.CounterVec
	BroadcastDelivered *prometheus.CounterVec
	BroadcastDuration  prometheus.Histogram
	UpdatesDropped     prometheus.Counter
	HandlerErrors      *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		JoinRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_requests_total",
			Help:      "Join requests recorded.",
		}),
		BlockEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_events_total",
			Help:      "Users blocking (state=blocked) or unblocking (state=unblocked) the bot.",
		}, []string{"state"}),
		BroadcastRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_runs_total",
			Help:      "Finished broadcast runs by payload kind.",
		}, []string{"kind"}),
		BroadcastDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Broadcast delivery attempts by result (ok, failed).",
		}, []string{"result"}),
		BroadcastDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_duration_seconds",
			Help:      "Wall time of a broadcast run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		UpdatesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_dropped_total",
			Help:      "Telegram updates dropped because the dispatch queue was full.",
		}),
		HandlerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Update handlers that returned an error, by route.",
		}, []string{"route"}),
	}
}

// ObserveDelivery implements broadcast.Recorder.
func (m *Metrics) ObserveDelivery(ok bool) {
	if ok {
		m.BroadcastDelivered.WithLabelValues("ok").Inc()
		return
	}
	m.BroadcastDelivered.WithLabelValues("failed").Inc()
}

// ObserveRun implements broadcast.Recorder.
func (m *Metrics) ObserveRun(kind string, d time.Duration) {
	m.BroadcastRuns.WithLabelValues(kind).Inc()
	m.BroadcastDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveBlock(blocked bool) {
	if blocked {
		m.BlockEvents.WithLabelValues("blocked").Inc()
		return
	}
	m.BlockEvents.WithLabelValues("unblocked").Inc()
}
