// Package metrics exposes Prometheus collectors for the staging pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Record outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeOversized = "oversized"
)

var (
	stagerPagesTotal           prometheus.Counter
	stagerRecordsTotal         *prometheus.CounterVec
	stagerBatchesTotal         *prometheus.CounterVec
	stagerBatchDurationSeconds prometheus.Histogram
	stagerSynonymsTotal        prometheus.Counter
	stagerPromotionsTotal      *prometheus.CounterVec
	stagerConfigWarningsTotal  *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	stagerRecordBytes          prometheus.Histogram
	stagerArchiveBytesTotal    prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		stagerPagesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "stager_pages_total",
				Help: "Total number of pages post-processed into the staging index.",
			},
		)

		stagerRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stager_records_total",
				Help: "Total number of records partitioned, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		stagerBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stager_batches_total",
				Help: "Total number of object batches written to the staging index, labeled by status.",
			},
			[]string{"status"},
		)

		stagerBatchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stager_batch_duration_seconds",
				Help:    "Histogram of staging batch write latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		stagerSynonymsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "stager_synonyms_total",
				Help: "Total number of synonyms uploaded to the staging index.",
			},
		)

		stagerPromotionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stager_promotions_total",
				Help: "Total number of staging index promotions, labeled by status.",
			},
			[]string{"status"},
		)

		stagerConfigWarningsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stager_config_warnings_total",
				Help: "Configuration entries skipped during resolution, labeled by setting.",
			},
			[]string{"setting"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		stagerRecordBytes = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stager_record_bytes",
				Help:    "Histogram of encoded record sizes seen by the size partitioner.",
				Buckets: prometheus.ExponentialBuckets(256, 2, 10),
			},
		)

		stagerArchiveBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "stager_archive_bytes_total",
				Help: "Total compressed bytes written to the record archive.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the staged page counter.
func ObservePage() {
	Init()
	stagerPagesTotal.Inc()
}

// ObserveRecords adds count records with the given outcome.
func ObserveRecords(outcome string, count int) {
	Init()
	if count > 0 {
		stagerRecordsTotal.WithLabelValues(outcome).Add(float64(count))
	}
}

// ObserveRecordSize records one encoded record size.
func ObserveRecordSize(size int) {
	Init()
	stagerRecordBytes.Observe(float64(size))
}

// ObserveBatch records one staging batch write.
func ObserveBatch(success bool, duration time.Duration) {
	Init()
	stagerBatchesTotal.WithLabelValues(status(success)).Inc()
	stagerBatchDurationSeconds.Observe(duration.Seconds())
}

// ObserveSynonyms adds count uploaded synonyms.
func ObserveSynonyms(count int) {
	Init()
	stagerSynonymsTotal.Add(float64(count))
}

// ObservePromotion records the outcome of a staging promotion.
func ObservePromotion(success bool) {
	Init()
	stagerPromotionsTotal.WithLabelValues(status(success)).Inc()
}

// ObserveConfigWarning counts one skipped configuration entry.
func ObserveConfigWarning(setting string) {
	Init()
	stagerConfigWarningsTotal.WithLabelValues(setting).Inc()
}

// ObserveArchiveBytes adds compressed bytes written to the archive.
func ObserveArchiveBytes(n int) {
	Init()
	stagerArchiveBytesTotal.Add(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
