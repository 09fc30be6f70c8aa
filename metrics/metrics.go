// Package metrics exposes per-tunnel and reorder-buffer gauges/counters
// over an optional Prometheus HTTP endpoint (spec §4.11). It is grounded
// on the runZeroInc pair's use of github.com/prometheus/client_golang for
// socket-level counters, adapted here to bonded-tunnel telemetry. This is
// additive: nothing in the datapath reads these values back.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every exported metric (spec §4.11).
type Registry struct {
	TunnelStatus      *prometheus.GaugeVec
	TunnelBandwidth   *prometheus.GaugeVec
	TunnelSRTT        *prometheus.GaugeVec
	TunnelLossPercent *prometheus.GaugeVec
	TunnelWeight      *prometheus.GaugeVec

	ReorderDelivered prometheus.Counter
	ReorderLoss      prometheus.Counter

	registry *prometheus.Registry
	server   *http.Server
}

// New builds a Registry with its own prometheus.Registry, isolated from
// the default global one so metrics stay scoped to this process instance.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,
		TunnelStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tunnel_status",
			Help: "Current tunnel FSM state (0=disconnected,1=auth_sent,2=auth_ok,3=lossy).",
		}, []string{"tunnel"}),
		TunnelBandwidth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tunnel_bandwidth_bps",
			Help: "Local target bandwidth per tunnel, in bits/sec.",
		}, []string{"tunnel"}),
		TunnelSRTT: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tunnel_srtt_ms",
			Help: "Smoothed round-trip time per tunnel, in milliseconds.",
		}, []string{"tunnel"}),
		TunnelLossPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tunnel_loss_percent",
			Help: "Locally observed loss percentage per tunnel.",
		}, []string{"tunnel"}),
		TunnelWeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tunnel_weight",
			Help: "Current scheduler weight per tunnel.",
		}, []string{"tunnel"}),
		ReorderDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reorder_delivered_total",
			Help: "Packets delivered in order by the reorder buffer.",
		}),
		ReorderLoss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reorder_loss_total",
			Help: "Packets counted as lost by the reorder buffer.",
		}),
	}
	reg.MustRegister(r.TunnelStatus, r.TunnelBandwidth, r.TunnelSRTT,
		r.TunnelLossPercent, r.TunnelWeight, r.ReorderDelivered, r.ReorderLoss)
	return r
}

// Serve starts the /metrics HTTP endpoint on listen. A no-op if listen is
// empty (spec §4.11 "empty = disabled").
func (r *Registry) Serve(listen string) error {
	if listen == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	r.server = &http.Server{Addr: listen, Handler: mux}
	go r.server.ListenAndServe()
	return nil
}

// Shutdown stops the metrics HTTP server, if running.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}
