// Package metrics holds the Prometheus collectors of the ledger service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DistributionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_ledger_distributions_total",
			Help: "Total number of commission distributions by outcome",
		},
		[]string{"status"}, // "success", "already_distributed", "conflict", "error"
	)

	DistributionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "referral_ledger_distribution_duration_seconds",
			Help:    "Duration of commission distributions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
	)

	CommissionPaidTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "referral_ledger_commission_paid_total",
			Help: "Total coins credited as commission",
		},
	)

	LedgerEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_ledger_entries_total",
			Help: "Total number of committed ledger entries",
		},
		[]string{"kind"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_ledger_retries_total",
			Help: "Total number of operations retried after a storage conflict",
		},
		[]string{"operation"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_ledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "referral_ledger_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RecordDistribution records the outcome of one distribution attempt.
func RecordDistribution(status string, duration time.Duration) {
	DistributionsTotal.WithLabelValues(status).Inc()
	DistributionDuration.Observe(duration.Seconds())
}

func RecordEntry(kind string) {
	LedgerEntriesTotal.WithLabelValues(kind).Inc()
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
