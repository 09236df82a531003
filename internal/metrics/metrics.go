// Package metrics exposes the process metrics on a dedicated registry
// so the scrape surface carries no default collectors we do not own.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var registry = prometheus.NewRegistry()

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "staysync_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "staysync_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	OutboxDispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "staysync_outbox_dispatches_total",
		Help: "Outbox dispatch outcomes by event kind.",
	}, []string{"kind", "outcome"})

	OutboxMerged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "staysync_outbox_merged_total",
		Help: "Outbox events superseded by a newer event before dispatch.",
	})

	PushDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "staysync_partner_push_duration_seconds",
		Help:    "Partner API call latency by metric.",
		Buckets: prometheus.DefBuckets,
	}, []string{"metric"})

	RateLimiterDenied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "staysync_rate_limiter_denied_total",
		Help: "Acquisitions denied by the shared rate limiter.",
	}, []string{"metric"})

	WebhookIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "staysync_webhook_ingested_total",
		Help: "Inbound webhook deliveries by ingest result.",
	}, []string{"result"})

	WebhookProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "staysync_webhook_processed_total",
		Help: "Processed webhook events by resulting action.",
	}, []string{"action"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequests,
		HTTPDuration,
		OutboxDispatches,
		OutboxMerged,
		PushDuration,
		RateLimiterDenied,
		WebhookIngested,
		WebhookProcessed,
	)
}

// Registry returns the registry the /metrics endpoint serves.
func Registry() *prometheus.Registry {
	return registry
}
