// Package metrics exposes Prometheus counters and histograms for ingestion
// and question answering. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	questionsTotal       *prometheus.CounterVec
	routeDefaultsTotal   prometheus.Counter
	extractionFailures   *prometheus.CounterVec
	generationFailures   prometheus.Counter
	retrievalDuration    prometheus.Histogram
	indexBuildDuration   *prometheus.HistogramVec
	indexedWindowsLatest prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	questionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "protocolqa",
			Subsystem: "engine",
			Name:      "questions_total",
			Help:      "Total answered questions by routed intent.",
		},
		[]string{"intent"},
	)
	routeDefaultsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "protocolqa",
			Subsystem: "router",
			Name:      "defaulted_total",
			Help:      "Routing decisions that fell back to the default route.",
		},
	)
	extractionFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "protocolqa",
			Subsystem: "extractor",
			Name:      "failures_total",
			Help:      "Extraction failures by intent.",
		},
		[]string{"intent"},
	)
	generationFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "protocolqa",
			Subsystem: "composer",
			Name:      "generation_failures_total",
			Help:      "Answer generation calls that failed.",
		},
	)
	retrievalDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "protocolqa",
			Subsystem: "searcher",
			Name:      "retrieval_duration_seconds",
			Help:      "Hybrid retrieval duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)
	indexBuildDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "protocolqa",
			Subsystem: "indexer",
			Name:      "build_duration_seconds",
			Help:      "Index build duration in seconds by status.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)
	indexedWindowsLatest := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "protocolqa",
			Subsystem: "indexer",
			Name:      "windows",
			Help:      "Number of windows in the active index.",
		},
	)

	registry.MustRegister(questionsTotal, routeDefaultsTotal, extractionFailures, generationFailures,
		retrievalDuration, indexBuildDuration, indexedWindowsLatest)

	return &Metrics{
		registry:             registry,
		questionsTotal:       questionsTotal,
		routeDefaultsTotal:   routeDefaultsTotal,
		extractionFailures:   extractionFailures,
		generationFailures:   generationFailures,
		retrievalDuration:    retrievalDuration,
		indexBuildDuration:   indexBuildDuration,
		indexedWindowsLatest: indexedWindowsLatest,
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncQuestion(intent string) {
	if m == nil {
		return
	}
	m.questionsTotal.WithLabelValues(intent).Inc()
}

func (m *Metrics) IncRouteDefault() {
	if m == nil {
		return
	}
	m.routeDefaultsTotal.Inc()
}

func (m *Metrics) IncExtractionFailure(intent string) {
	if m == nil {
		return
	}
	m.extractionFailures.WithLabelValues(intent).Inc()
}

func (m *Metrics) IncGenerationFailure() {
	if m == nil {
		return
	}
	m.generationFailures.Inc()
}

func (m *Metrics) ObserveRetrieval(duration time.Duration) {
	if m == nil {
		return
	}
	m.retrievalDuration.Observe(duration.Seconds())
}

func (m *Metrics) ObserveIndexBuild(duration time.Duration, windows int, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	} else {
		m.indexedWindowsLatest.Set(float64(windows))
	}
	m.indexBuildDuration.WithLabelValues(status).Observe(duration.Seconds())
}
