// Package metrics exposes Prometheus instrumentation for the analysis
// service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AnalysesTotal counts completed pipeline runs by outcome.
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perseptor",
		Name:      "analyses_total",
		Help:      "Completed analyses by outcome.",
	}, []string{"outcome"})

	// StageDuration tracks wall time of each pipeline stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "perseptor",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"stage"})

	// ProviderTokens counts tokens consumed per provider and model.
	ProviderTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perseptor",
		Subsystem: "provider",
		Name:      "tokens_total",
		Help:      "Tokens consumed by AI providers.",
	}, []string{"provider", "model", "kind"})

	// ProviderCalls counts provider calls per task endpoint.
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perseptor",
		Subsystem: "provider",
		Name:      "calls_total",
		Help:      "AI provider calls by task endpoint.",
	}, []string{"provider", "endpoint"})

	// ProviderLatency tracks provider call latency per endpoint.
	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "perseptor",
		Subsystem: "provider",
		Name:      "latency_seconds",
		Help:      "AI provider call latency.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"provider", "endpoint"})

	// HTTPRequests counts API requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perseptor",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by route and status.",
	}, []string{"route", "status"})
)

// ObserveStage records one pipeline stage duration.
func ObserveStage(stage string, duration time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordProviderCall records a provider call with its token usage.
func RecordProviderCall(provider, model, endpoint string, promptTokens, completionTokens int, latency time.Duration) {
	ProviderCalls.WithLabelValues(provider, endpoint).Inc()
	ProviderLatency.WithLabelValues(provider, endpoint).Observe(latency.Seconds())
	ProviderTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	ProviderTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
