// Package metrics exposes the counters and gauges the /metrics
// endpoint serves: Prometheus client_golang counters, gauges
// and a vector for dispatcher errors, plus gopsutil-sampled host CPU
// and memory for the idle detector's background-worker model.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Handler returns the HTTP handler the transport layer mounts at
// /metrics via mux.Handle.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics is the process's Prometheus registry surface.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge
	ConnectionsDropped prometheus.Counter

	FramesReceived prometheus.Counter
	FramesSent     prometheus.Counter
	FramesMalformed prometheus.Counter

	DispatcherErrors *prometheus.CounterVec

	IdleDemotions prometheus.Counter

	SystemCPUPercent    prometheus.Gauge
	SystemMemoryPercent prometheus.Gauge

	startTime time.Time
}

// New registers and returns a fresh metrics set.
func New() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_connections_total",
			Help: "Total number of connections that completed the handshake.",
		}),
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Number of currently active connections.",
		}),
		ConnectionsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_connections_dropped_total",
			Help: "Total number of connections torn down, for any cause (client close, read/write error, slow subscriber).",
		}),
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_frames_received_total",
			Help: "Total number of inbound frames decoded successfully.",
		}),
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_frames_sent_total",
			Help: "Total number of outbound frames written to a connection.",
		}),
		FramesMalformed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_frames_malformed_total",
			Help: "Total number of inbound frames dropped for failing to decode.",
		}),
		DispatcherErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_dispatcher_errors_total",
			Help: "Total number of ERROR frames emitted to clients, by error code.",
		}, []string{"code"}),
		IdleDemotions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_idle_demotions_total",
			Help: "Total number of users demoted to Inactive by the idle detector.",
		}),
		SystemCPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chat_system_cpu_percent",
			Help: "Host CPU utilization percent, sampled periodically.",
		}),
		SystemMemoryPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chat_system_memory_percent",
			Help: "Host memory utilization percent, sampled periodically.",
		}),
	}
}

// Uptime reports how long this process has been running.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// IncDispatcherError satisfies chat.Metrics: it counts one ERROR frame
// emitted to a client, broken down by code.
func (m *Metrics) IncDispatcherError(code string) {
	m.DispatcherErrors.WithLabelValues(code).Inc()
}

// AddIdleDemotions satisfies idle.Metrics: it counts n users demoted to
// Inactive in a single sweep.
func (m *Metrics) AddIdleDemotions(n int) {
	m.IdleDemotions.Add(float64(n))
}

// SampleSystem refreshes the host CPU/memory gauges. Call periodically
// from a background ticker; a sampling failure leaves the previous
// gauge value in place rather than erroring.
func (m *Metrics) SampleSystem() {
	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		m.SystemCPUPercent.Set(percentages[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		m.SystemMemoryPercent.Set(vm.UsedPercent)
	}
}

// RunSampler samples system metrics every interval until stop is
// closed. Intended to run in its own goroutine for the process
// lifetime.
func (m *Metrics) RunSampler(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.SampleSystem()
		}
	}
}
