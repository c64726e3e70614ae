package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder reports generation metrics using Prometheus primitives.
type Recorder struct {
	generations *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	retries     *prometheus.CounterVec
	fallbacks   prometheus.Counter
}

// NewRecorder registers the generation collectors on the given registry.
func NewRecorder(registry *prometheus.Registry) (*Recorder, error) {
	if registry == nil {
		return nil, fmt.Errorf("prometheus registry is nil")
	}

	r := &Recorder{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "choicestory_generations_total",
			Help: "Total story generations by provider and status",
		}, []string{"provider", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "choicestory_generation_duration_seconds",
			Help:    "End-to-end generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "choicestory_generation_retries_total",
			Help: "Total retry attempts by provider",
		}, []string{"provider"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "choicestory_generation_fallbacks_total",
			Help: "Total fallbacks from the primary to the secondary provider",
		}),
	}

	for _, collector := range []prometheus.Collector{r.generations, r.durations, r.retries, r.fallbacks} {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return r, nil
}

// ObserveGeneration records one finished generation.
func (r *Recorder) ObserveGeneration(providerName string, status string, duration time.Duration) {
	r.generations.WithLabelValues(providerName, status).Inc()
	r.durations.WithLabelValues(providerName).Observe(duration.Seconds())
}

// ObserveRetry records one retried primary attempt.
func (r *Recorder) ObserveRetry(providerName string) {
	r.retries.WithLabelValues(providerName).Inc()
}

// ObserveFallback records one switch to the secondary provider.
func (r *Recorder) ObserveFallback() {
	r.fallbacks.Inc()
}

// Handler exposes the registry for scraping.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
