package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Metrics groups the collectors the daemon reports on.
type Metrics struct {
	WatchEvents     *prometheus.CounterVec
	DebouncePending prometheus.Gauge
	InFlight        prometheus.Gauge
	ActionOutcomes  *prometheus.CounterVec
	ActionDuration  *prometheus.HistogramVec
}

// NewMetrics creates the daemon collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		WatchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photoprep_watch_events_total",
			Help: "Filesystem events received by the watcher, labeled by kind",
		}, []string{"kind"}),
		DebouncePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "photoprep_debounce_pending",
			Help: "Current number of paths waiting for their quiet window to elapse",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "photoprep_pipelines_in_flight",
			Help: "Current number of files running through the action pipeline",
		}),
		ActionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photoprep_action_outcomes_total",
			Help: "Action outcomes, labeled by action and status",
		}, []string{"action", "status"}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "photoprep_action_duration_seconds",
			Help:    "Histogram of action run durations in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"action"}),
	}

	for _, c := range []prometheus.Collector{m.WatchEvents, m.DebouncePending, m.InFlight, m.ActionOutcomes, m.ActionDuration} {
		err := reg.Register(c)
		if err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	return m, nil
}

// MetricsHandler exposes the metrics gathered by g, traced with otelhttp.
func MetricsHandler(appName string, g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return otelhttp.NewHandler(mux, appName)
}
