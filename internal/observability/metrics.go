package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	generationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carbon",
		Subsystem: "exchange",
		Name:      "generations_total",
		Help:      "Recommendation generations by outcome (done or the failure kind).",
	}, []string{"outcome"})

	scorerDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "carbon",
		Subsystem: "exchange",
		Name:      "scorer_duration_seconds",
		Help:      "Wall time of the scoring process, from spawn to exit.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	recommendationsPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "carbon",
		Subsystem: "exchange",
		Name:      "recommendations_persisted_total",
		Help:      "Recommendations written to the store.",
	})

	recommendationsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "carbon",
		Subsystem: "exchange",
		Name:      "recommendations_failed_total",
		Help:      "Recommendations the store rejected during persistence.",
	})

	lastSuccessGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carbon",
		Subsystem: "exchange",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful generation.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carbon",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route template and status code.",
	}, []string{"method", "route", "status"})
)

func init() {
	prometheus.MustRegister(
		generationsTotal,
		scorerDuration,
		recommendationsPersisted,
		recommendationsFailed,
		lastSuccessGauge,
		httpRequestsTotal,
	)
}

// RecordGeneration counts one finished generation.
func RecordGeneration(outcome string) {
	generationsTotal.WithLabelValues(outcome).Inc()
}

// RecordScorerDuration observes how long the scoring process ran.
func RecordScorerDuration(d time.Duration) {
	scorerDuration.Observe(d.Seconds())
}

// RecordPersistence counts per-item persistence results of one generation.
func RecordPersistence(saved, failed int) {
	recommendationsPersisted.Add(float64(saved))
	recommendationsFailed.Add(float64(failed))
}

// RecordGenerationSuccess updates the success watermark.
func RecordGenerationSuccess(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSuccessGauge.Set(float64(ts.Unix()))
}

// RecordHTTPRequest counts one served request.
func RecordHTTPRequest(method, route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
