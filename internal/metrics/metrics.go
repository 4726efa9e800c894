// Package metrics defines the Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bus metrics.
var (
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_messages_published_total",
		Help: "Task messages published, by channel.",
	}, []string{"channel"})

	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_publish_failures_total",
		Help: "Failed publish attempts, by channel.",
	}, []string{"channel"})

	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_messages_consumed_total",
		Help: "Task messages consumed, by channel.",
	}, []string{"channel"})

	HandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_handler_failures_total",
		Help: "Handler errors, by channel.",
	}, []string{"channel"})
)

// Crawl metrics.
var (
	BooksUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_books_upserted_total",
		Help: "Catalog rows written by the list crawler, by outcome (new/updated).",
	}, []string{"outcome"})

	DetailCrawls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_detail_crawls_total",
		Help: "Detail crawl attempts, by result (success/retry/permanent_failure).",
	}, []string{"result"})

	PriceUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_price_updates_total",
		Help: "Price update results applied, by status.",
	}, []string{"status"})

	RemoteRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_remote_request_duration_seconds",
		Help:    "Latency of remote marketplace API calls, by endpoint.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
