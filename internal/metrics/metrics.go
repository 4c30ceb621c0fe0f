// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medscribe"

var (
	Documents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "documents_total",
		Help:      "Documents that reached a status at the end of an attempt.",
	}, []string{"status"})

	Attempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "processing_attempts_total",
		Help:      "Processing attempts started, including retries.",
	})

	Pages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pages_total",
		Help:      "Pages recognized.",
	})

	Fields = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fields_extracted_total",
		Help:      "Fields extracted, by field name.",
	}, []string{"field"})

	LowConfidenceFields = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "low_confidence_fields_total",
		Help:      "Extracted fields below the configured confidence threshold.",
	}, []string{"field"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Time spent per pipeline stage.",
		Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	HTRDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "htr_degraded_total",
		Help:      "Handwriting recognitions that returned an empty result.",
	}, []string{"reason"})

	StorageBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "storage_breaker_state",
		Help:      "Storage circuit breaker state (0 closed, 1 half-open, 2 open).",
	}, []string{"breaker"})
)

// ObserveStage records the time since start for stage.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
