// Package metrics provides Prometheus metrics for the pricefeed engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SubmissionsTotal is a counter of committed quote submissions.
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_submissions_total",
			Help: "Total number of committed quote submissions",
		},
		[]string{"asset", "source"},
	)

	// SubmissionRejectionsTotal is a counter of rejected submissions by reason.
	SubmissionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_submission_rejections_total",
			Help: "Total number of rejected quote submissions",
		},
		[]string{"reason"},
	)

	// AggregationsTotal is a counter of aggregate recomputations by outcome.
	AggregationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_aggregations_total",
			Help: "Total number of aggregate recomputations",
		},
		[]string{"status"},
	)

	// AggregationDuration is a histogram of aggregate recomputation duration.
	AggregationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "price_aggregation_duration_seconds",
			Help:    "Duration of aggregate recomputations",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ContributingSources is a gauge of quotes contributing to the latest aggregate.
	ContributingSources = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aggregate_contributing_sources",
			Help: "Number of quotes that contributed to the latest aggregate for an asset",
		},
		[]string{"asset"},
	)

	// StaleReadsTotal is a counter of price reads rejected as stale.
	StaleReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stale_price_reads_total",
			Help: "Total number of price reads rejected because the aggregate was stale",
		},
		[]string{"asset"},
	)

	// ConversionsTotal is a counter of cross-asset conversions by outcome.
	ConversionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversions_total",
			Help: "Total number of cross-asset conversion requests",
		},
		[]string{"status"},
	)

	// HTTPRequestsTotal is a counter of total HTTP requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status"},
	)

	// HTTPRequestDuration is a histogram of HTTP request latencies.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint"},
	)
)

// Init initializes Prometheus metrics registry.
func Init() {
	prometheus.MustRegister(
		SubmissionsTotal,
		SubmissionRejectionsTotal,
		AggregationsTotal,
		AggregationDuration,
		ContributingSources,
		StaleReadsTotal,
		ConversionsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// ServeHTTP serves Prometheus metrics on the specified address.
func ServeHTTP(addr string) error {
	http.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      http.DefaultServeMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// RecordSubmission records a committed quote submission.
func RecordSubmission(asset, source string) {
	SubmissionsTotal.WithLabelValues(asset, source).Inc()
}

// RecordSubmissionRejected records a rejected submission.
func RecordSubmissionRejected(reason string) {
	SubmissionRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordAggregation records an aggregate recomputation.
func RecordAggregation(status string, duration time.Duration) {
	AggregationsTotal.WithLabelValues(status).Inc()
	AggregationDuration.Observe(duration.Seconds())
}

// RecordActiveQuotes records the number of quotes contributing to an aggregate.
func RecordActiveQuotes(asset string, count int) {
	ContributingSources.WithLabelValues(asset).Set(float64(count))
}

// RecordStaleRead records a price read rejected as stale.
func RecordStaleRead(asset string) {
	StaleReadsTotal.WithLabelValues(asset).Inc()
}

// RecordConversion records a cross-asset conversion request.
func RecordConversion(status string) {
	ConversionsTotal.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}
