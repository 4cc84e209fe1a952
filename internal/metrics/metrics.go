package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the POS client's collectors on a private registry.
type Registry struct {
	reg              *prometheus.Registry
	Actions          *prometheus.CounterVec
	ActionLatency    *prometheus.HistogramVec
	RefreshDiscarded prometheus.Counter
	RefreshFailed    prometheus.Counter
	ClassifiedErrors *prometheus.CounterVec
	OpenTabs         prometheus.Gauge
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_order_actions_total",
		Help: "Lifecycle actions by action and outcome.",
	}, []string{"action", "result"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pos_order_action_duration_seconds",
		Help:    "Lifecycle action latency including the trailing refresh.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})
	discarded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pos_order_refresh_discarded_total",
		Help: "Order detail responses dropped because a newer request was issued.",
	})
	refreshFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pos_order_refresh_failed_total",
		Help: "Order detail re-fetches that failed.",
	})
	classified := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_server_errors_total",
		Help: "Server failures by classification kind.",
	}, []string{"kind"})
	openTabs := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pos_open_tabs",
		Help: "Tabs currently open.",
	})

	r.MustRegister(actions, latency, discarded, refreshFailed, classified, openTabs)
	return &Registry{
		reg:              r,
		Actions:          actions,
		ActionLatency:    latency,
		RefreshDiscarded: discarded,
		RefreshFailed:    refreshFailed,
		ClassifiedErrors: classified,
		OpenTabs:         openTabs,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

func (r *Registry) ObserveAction(action, result string, d time.Duration) {
	r.Actions.WithLabelValues(action, result).Inc()
	r.ActionLatency.WithLabelValues(action).Observe(d.Seconds())
}

func (r *Registry) RefreshOutcome(discarded, failed bool) {
	if discarded {
		r.RefreshDiscarded.Inc()
	}
	if failed {
		r.RefreshFailed.Inc()
	}
}

func (r *Registry) ErrorClassified(kind string) {
	r.ClassifiedErrors.WithLabelValues(kind).Inc()
}

func (r *Registry) TabsOpen(n int) {
	r.OpenTabs.Set(float64(n))
}
