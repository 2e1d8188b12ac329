// Package metrics exposes the pipeline's operational counters over the
// standard Prometheus registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	generationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zkcipher_proof_generations_total",
		Help: "Total number of proof generation calls.",
	}, []string{"circuit", "cache"})

	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zkcipher_proof_generation_duration_seconds",
		Help:    "Proof generation duration in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"circuit"})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zkcipher_proof_verifications_total",
		Help: "Total number of verification calls.",
	}, []string{"circuit", "verified", "cache"})

	batchSubjectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zkcipher_batch_subjects_total",
		Help: "Total subjects submitted through batch generation.",
	}, []string{"circuit"})

	batchExcludedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zkcipher_batch_excluded_total",
		Help: "Batch subjects excluded by partial-success handling.",
	}, []string{"circuit"})
)

func cacheLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

// ObserveGeneration records one proof generation, its cache disposition and
// its duration.
func ObserveGeneration(circuit string, cacheHit bool, duration time.Duration) {
	generationsTotal.WithLabelValues(circuit, cacheLabel(cacheHit)).Inc()
	generationDuration.WithLabelValues(circuit).Observe(duration.Seconds())
}

// ObserveVerification records one verification verdict and its cache
// disposition.
func ObserveVerification(circuit string, verified, cacheHit bool) {
	verificationsTotal.WithLabelValues(circuit, strconv.FormatBool(verified), cacheLabel(cacheHit)).Inc()
}

// ObserveBatch records one batch generation: how many subjects were
// submitted and how many were excluded by partial-success handling.
func ObserveBatch(circuit string, submitted, succeeded int) {
	batchSubjectsTotal.WithLabelValues(circuit).Add(float64(submitted))
	if excluded := submitted - succeeded; excluded > 0 {
		batchExcludedTotal.WithLabelValues(circuit).Add(float64(excluded))
	}
}

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
