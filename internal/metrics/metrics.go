// Package metrics exposes Prometheus collectors for the page count runner.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	itemsTotal           *prometheus.CounterVec
	itemDurationSeconds  *prometheus.HistogramVec
	pageImages           prometheus.Histogram
	pageHrefs            prometheus.Histogram
	pacingDelaySeconds   prometheus.Histogram
	seedInsertionsTotal  *prometheus.CounterVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDurations *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagecount_items_total",
				Help: "Total number of work items finalized, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		itemDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagecount_item_duration_seconds",
				Help:    "Time spent processing a work item, excluding the pacing delay.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"status"},
		)

		pageImages = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagecount_page_images",
				Help:    "Number of img elements found per successfully processed page.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		)

		pageHrefs = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagecount_page_hrefs",
				Help:    "Number of anchors with a non-empty href per successfully processed page.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		)

		pacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagecount_pacing_delay_seconds",
				Help:    "Histogram of pauses inserted between work items.",
				Buckets: []float64{5, 10, 15, 20, 25, 30, 35, 40, 60},
			},
		)

		seedInsertionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagecount_seed_insertions_total",
				Help: "Total number of seed insertions attempted, labeled by status.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurations = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItem records the outcome of one work item. Counts are only
// observed for completed items.
func ObserveItem(site, status string, images, hrefs int, duration time.Duration) {
	Init()
	itemsTotal.WithLabelValues(SanitizeSite(site), status).Inc()
	itemDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
	if status == "completed" {
		pageImages.Observe(float64(images))
		pageHrefs.Observe(float64(hrefs))
	}
}

// ObservePacingDelay records a pause between items.
func ObservePacingDelay(delay time.Duration) {
	Init()
	pacingDelaySeconds.Observe(delay.Seconds())
}

// ObserveSeed records one seed insertion attempt.
func ObserveSeed(status string) {
	Init()
	seedInsertionsTotal.WithLabelValues(status).Inc()
}

// Push sends the default registry to a Prometheus Pushgateway under job.
func Push(ctx context.Context, gatewayURL, job string) error {
	Init()
	if err := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
