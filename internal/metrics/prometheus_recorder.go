package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stackwatch"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	events         *prom.CounterVec
	coalesced      prom.Counter
	actionDuration *prom.HistogramVec
	actionResults  *prom.CounterVec
	superseded     *prom.CounterVec
	inFlight       prom.Gauge
	services       *prom.GaugeVec
	publishDropped prom.Counter
}

// NewPrometheusRecorder constructs the collectors and registers them on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		events: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_events_total",
			Help:      "Filesystem events reported by the change detector",
		}, []string{"kind"}),
		coalesced: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "debounce_coalesced_total",
			Help:      "Change events absorbed by an already armed debounce timer",
		}),
		actionDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Duration of compose lifecycle actions",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"action"}),
		actionResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "action_results_total",
			Help:      "Compose lifecycle actions by outcome",
		}, []string{"action", "outcome"}),
		superseded: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "action_superseded_total",
			Help:      "Queued follow-up actions replaced by a newer request",
		}, []string{"action"}),
		inFlight: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "actions_in_flight",
			Help:      "Compose invocations currently running",
		}),
		services: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "services",
			Help:      "Managed services by lifecycle state",
		}, []string{"state"}),
		publishDropped: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "status_publish_dropped_total",
			Help:      "Status snapshots dropped because the publisher queue was full",
		}),
	}
	reg.MustRegister(pr.events, pr.coalesced, pr.actionDuration, pr.actionResults,
		pr.superseded, pr.inFlight, pr.services, pr.publishDropped)
	return pr
}

func (p *PrometheusRecorder) IncEvent(kind string) { p.events.WithLabelValues(kind).Inc() }
func (p *PrometheusRecorder) IncCoalesced()        { p.coalesced.Inc() }

func (p *PrometheusRecorder) ObserveAction(action, outcome string, d time.Duration) {
	p.actionDuration.WithLabelValues(action).Observe(d.Seconds())
	p.actionResults.WithLabelValues(action, outcome).Inc()
}

func (p *PrometheusRecorder) IncSuperseded(action string) { p.superseded.WithLabelValues(action).Inc() }
func (p *PrometheusRecorder) SetInFlight(n int)           { p.inFlight.Set(float64(n)) }

func (p *PrometheusRecorder) SetServices(counts map[string]int) {
	for state, n := range counts {
		p.services.WithLabelValues(state).Set(float64(n))
	}
}

func (p *PrometheusRecorder) IncPublishDropped() { p.publishDropped.Inc() }

// HTTPHandler returns an http.Handler that serves the metrics of reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
