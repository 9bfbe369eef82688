// Package metrics exposes Prometheus collectors for crawling, indexing and search.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerSitesTotal             *prometheus.CounterVec
	crawlerInflightTasks          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	indexCommitsTotal             *prometheus.CounterVec
	indexLemmasTotal              *prometheus.CounterVec
	searchRequestsTotal           *prometheus.CounterVec
	searchDurationSeconds         prometheus.Histogram
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times; Observe* helpers call it lazily.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages fetched, labeled by site and status class.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerSitesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_sites_total",
				Help: "Total number of finished site crawls, labeled by final status.",
			},
			[]string{"status"},
		)

		crawlerInflightTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_inflight_tasks",
				Help: "Number of crawl tasks scheduled or running.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		indexCommitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_commits_total",
				Help: "Total number of page commits into the index, labeled by site.",
			},
			[]string{"site"},
		)

		indexLemmasTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_lemmas_total",
				Help: "Total number of Index rows written, labeled by site.",
			},
			[]string{"site"},
		)

		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_requests_total",
				Help: "Total number of search queries, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		searchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_duration_seconds",
				Help:    "Histogram of search latencies.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
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

// StatusClass buckets an HTTP status code as "2xx", "4xx", ... or "error" for 0.
func StatusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch counts one fetched page.
func ObserveFetch(pageURL string, statusCode int, bytesFetched int) {
	Init()
	site := SanitizeSite(pageURL)
	crawlerPagesTotal.WithLabelValues(site, StatusClass(statusCode)).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveSiteFinished counts a site crawl that reached a terminal status.
func ObserveSiteFinished(status string) {
	Init()
	crawlerSitesTotal.WithLabelValues(status).Inc()
}

// IncInflightTasks increments the in-flight crawl task gauge.
func IncInflightTasks() {
	Init()
	crawlerInflightTasks.Inc()
}

// DecInflightTasks decrements the in-flight crawl task gauge.
func DecInflightTasks() {
	Init()
	crawlerInflightTasks.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveIndexCommit counts a page commit and its Index rows.
func ObserveIndexCommit(pageURL string, rows int) {
	Init()
	site := SanitizeSite(pageURL)
	indexCommitsTotal.WithLabelValues(site).Inc()
	indexLemmasTotal.WithLabelValues(site).Add(float64(rows))
}

// ObserveSearch records one search with its outcome ("ok", "invalid", "not_found", "error").
func ObserveSearch(outcome string, duration time.Duration) {
	Init()
	searchRequestsTotal.WithLabelValues(outcome).Inc()
	searchDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
