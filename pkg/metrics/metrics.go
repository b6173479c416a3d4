// Package metrics exposes prometheus collectors for the terminal server.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	StoreWrites     *prometheus.CounterVec
	WSConnections   prometheus.Gauge
	WSMessages      *prometheus.CounterVec
	RateLimited     prometheus.Counter
	BackupRequests  *prometheus.CounterVec
	Uptime          prometheus.GaugeFunc
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// NewMetrics creates a collector set on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	start := time.Now()

	return &Metrics{
		registry: reg,
		Commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webterm_commands_total",
				Help: "Commands processed, by command and outcome",
			},
			[]string{"command", "outcome"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webterm_command_duration_seconds",
				Help:    "Command execution time in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"command"},
		),
		StoreWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webterm_store_writes_total",
				Help: "Persistent store writes, by operation and status",
			},
			[]string{"op", "status"},
		),
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webterm_ws_connections",
				Help: "Number of open websocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webterm_ws_messages_total",
				Help: "Websocket messages by direction and type",
			},
			[]string{"direction", "type"},
		),
		RateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webterm_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
		BackupRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webterm_backup_requests_total",
				Help: "Bulk filesystem export and import requests",
			},
			[]string{"kind", "status"},
		),
		Uptime: factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "webterm_uptime_seconds",
				Help: "Seconds since the server started",
			},
			func() float64 { return time.Since(start).Seconds() },
		),
	}
}

// Default returns the process wide collector set.
func Default() *Metrics {
	globalOnce.Do(func() {
		global = NewMetrics()
	})
	return global
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCommand records one dispatched command.
func ObserveCommand(command, outcome string, elapsed time.Duration) {
	m := Default()
	m.Commands.WithLabelValues(command, outcome).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// ObserveStoreWrite records a persistent store mutation.
func ObserveStoreWrite(op string, err error) {
	Default().StoreWrites.WithLabelValues(op, status(err)).Inc()
}

// ObserveBackup records a bulk export or import.
func ObserveBackup(kind string, err error) {
	Default().BackupRequests.WithLabelValues(kind, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
