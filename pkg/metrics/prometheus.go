// Package metrics implements domain.repository.Metrics with Prometheus
// counters, gauges, and histograms.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements repository.Metrics using Prometheus.
type Recorder struct {
	scrapePosts       *prometheus.CounterVec
	scrapeErrors      *prometheus.CounterVec
	resolverQueueSize prometheus.Gauge
	resolverLatency   *prometheus.HistogramVec
	providerLatency   *prometheus.HistogramVec
	providerCooldowns *prometheus.CounterVec
	pipelineStage     *prometheus.HistogramVec
	eventsDropped     *prometheus.CounterVec
}

// New creates a Prometheus metrics recorder, registering every metric
// against the default registry.
func New() *Recorder {
	return &Recorder{
		scrapePosts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_scrape_posts_total",
				Help: "Total number of posts appended to the scrape store, by source",
			},
			[]string{"source"},
		),
		scrapeErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_scrape_errors_total",
				Help: "Total number of scrape errors, by source and kind",
			},
			[]string{"source", "kind"},
		),
		resolverQueueSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tokenpulse_resolver_queue_depth",
				Help: "Number of resolver calls currently queued behind the oracle semaphore",
			},
		),
		resolverLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tokenpulse_resolver_latency_seconds",
				Help:    "Latency of resolver code paths (fast path vs oracle)",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		providerLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tokenpulse_provider_latency_seconds",
				Help:    "Latency of a single market provider lookup",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		providerCooldowns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_provider_cooldowns_total",
				Help: "Total number of times a market provider was tripped into cooldown",
			},
			[]string{"provider"},
		),
		pipelineStage: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tokenpulse_pipeline_stage_duration_seconds",
				Help:    "Duration of a pipeline stage (scrape, aggregate, enrich)",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		eventsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenpulse_events_dropped_total",
				Help: "Total number of EventBus events dropped by a slow subscriber",
			},
			[]string{"reason"},
		),
	}
}

func (r *Recorder) RecordScrapePost(source string) {
	r.scrapePosts.WithLabelValues(source).Inc()
}

func (r *Recorder) RecordScrapeError(source, kind string) {
	r.scrapeErrors.WithLabelValues(source, kind).Inc()
}

func (r *Recorder) RecordResolverQueueDepth(depth int) {
	r.resolverQueueSize.Set(float64(depth))
}

func (r *Recorder) RecordResolverLatency(path string, seconds float64) {
	r.resolverLatency.WithLabelValues(path).Observe(seconds)
}

func (r *Recorder) RecordProviderLatency(provider string, seconds float64) {
	r.providerLatency.WithLabelValues(provider).Observe(seconds)
}

func (r *Recorder) RecordProviderCooldown(provider string) {
	r.providerCooldowns.WithLabelValues(provider).Inc()
}

func (r *Recorder) RecordPipelineStageDuration(stage string, seconds float64) {
	r.pipelineStage.WithLabelValues(stage).Observe(seconds)
}

func (r *Recorder) RecordEventDropped(reason string) {
	r.eventsDropped.WithLabelValues(reason).Inc()
}
