// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 IOEngine Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Recorder receives engine events worth counting.
type Recorder interface {
	PackageLoad(status string)
	PackageUnload()
	PackagesLoaded(n int)
	ServicesRegistered(n int)
	Execution(status string)
}

// Compile-time interface checks.
var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = Nop{}
)

// Metrics records engine events as Prometheus metrics.
type Metrics struct {
	PackageLoadsTotal       *prometheus.CounterVec
	PackageUnloadsTotal     prometheus.Counter
	PackagesLoadedGauge     prometheus.Gauge
	ServicesRegisteredTotal prometheus.Counter
	ExecutionsTotal         *prometheus.CounterVec
}

// NewMetrics creates the engine metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PackageLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ioengine_package_loads_total",
				Help: "Total number of package loads by outcome",
			},
			[]string{"status"},
		),
		PackageUnloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ioengine_package_unloads_total",
			Help: "Total number of package unloads",
		}),
		PackagesLoadedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ioengine_packages_loaded",
			Help: "Number of packages currently loaded",
		}),
		ServicesRegisteredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ioengine_services_registered_total",
			Help: "Total number of services registered",
		}),
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ioengine_executions_total",
				Help: "Total number of ad-hoc executions by outcome",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(
		m.PackageLoadsTotal,
		m.PackageUnloadsTotal,
		m.PackagesLoadedGauge,
		m.ServicesRegisteredTotal,
		m.ExecutionsTotal,
	)
	return m
}

func (m *Metrics) PackageLoad(status string) {
	m.PackageLoadsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) PackageUnload() {
	m.PackageUnloadsTotal.Inc()
}

func (m *Metrics) PackagesLoaded(n int) {
	m.PackagesLoadedGauge.Set(float64(n))
}

func (m *Metrics) ServicesRegistered(n int) {
	m.ServicesRegisteredTotal.Add(float64(n))
}

func (m *Metrics) Execution(status string) {
	m.ExecutionsTotal.WithLabelValues(status).Inc()
}

// Status maps an error to its outcome label.
func Status(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}

// Nop discards every event.
type Nop struct{}

func (Nop) PackageLoad(string)     {}
func (Nop) PackageUnload()         {}
func (Nop) PackagesLoaded(int)     {}
func (Nop) ServicesRegistered(int) {}
func (Nop) Execution(string)       {}
