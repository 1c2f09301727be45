// Package metrics exposes the Prometheus registry wired into the core
// dispatch path (A4) and the interrupt executor's delivery loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors the rest of the server writes to.
// Constructed once at startup and threaded into the core server and
// the interrupt executors via small callback hooks, keeping the
// protocol engine free of a direct prometheus dependency.
type Metrics struct {
	Registry *prometheus.Registry

	ActiveLinks  prometheus.Gauge
	RPCCalls     *prometheus.CounterVec
	RPCErrors    *prometheus.CounterVec
	SRQDelivered *prometheus.CounterVec
}

// New constructs a Metrics bundle registered against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ActiveLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vxi11_active_links",
			Help: "Number of VXI-11 device links currently open.",
		}),
		RPCCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vxi11_rpc_calls_total",
			Help: "Total RPC calls dispatched, by program and procedure.",
		}, []string{"program", "procedure"}),
		RPCErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vxi11_rpc_errors_total",
			Help: "Total non-NO_ERROR VXI-11 results returned, by error code.",
		}, []string{"error_code"}),
		SRQDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vxi11_srq_deliveries_total",
			Help: "Total device_intr_srq delivery attempts, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.ActiveLinks, m.RPCCalls, m.RPCErrors, m.SRQDelivered)
	return m
}

// Handler returns the /metrics HTTP handler for this bundle's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
