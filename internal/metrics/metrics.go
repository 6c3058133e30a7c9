// Package metrics exposes engine counters and gauges for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forgescan/scan-engine/internal/model"
	"forgescan/scan-engine/internal/orchestrator"
	"forgescan/scan-engine/internal/queue"
	"forgescan/scan-engine/internal/sandbox"
)

var (
	_ sandbox.Observer      = (*Metrics)(nil)
	_ queue.Observer        = (*Metrics)(nil)
	_ orchestrator.Observer = (*Metrics)(nil)
)

// Metrics owns a private registry so tests and embedding programs do not
// collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	toolExecutions   *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	activeExecutions prometheus.Gauge
	queueMode        prometheus.Gauge
	queueFallbacks   prometheus.Counter
	scans            *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		toolExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgescan_tool_executions_total",
				Help: "Tool executions by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forgescan_tool_execution_seconds",
				Help:    "Wall-clock duration of tool executions",
				Buckets: []float64{1, 5, 15, 30, 60, 180, 300, 600, 1200, 1800},
			},
			[]string{"tool"},
		),
		activeExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forgescan_active_executions",
			Help: "Execution slots currently held",
		}),
		queueMode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "forgescan_queue_mode",
			Help: "Queue mode: 0 probing, 1 broker, 2 direct",
		}),
		queueFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forgescan_queue_fallbacks_total",
			Help: "Transitions to direct execution",
		}),
		scans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgescan_scans_total",
				Help: "Scans that reached a terminal state",
			},
			[]string{"status"},
		),
	}
	m.registry.MustRegister(
		m.toolExecutions,
		m.toolDuration,
		m.activeExecutions,
		m.queueMode,
		m.queueFallbacks,
		m.scans,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SlotsChanged(active int) {
	m.activeExecutions.Set(float64(active))
}

func (m *Metrics) ExecutionFinished(tool, outcome string, elapsed time.Duration) {
	m.toolExecutions.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func (m *Metrics) ModeChanged(mode queue.Mode) {
	m.queueMode.Set(float64(mode))
	if mode == queue.ModeDirect {
		m.queueFallbacks.Inc()
	}
}

func (m *Metrics) ScanFinished(status model.ScanState) {
	m.scans.WithLabelValues(string(status)).Inc()
}
