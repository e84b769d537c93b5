package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by method, path pattern and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Orders successfully created.",
	})

	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Orders cancelled.",
	})

	ReservationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_reservation_failures_total",
		Help: "Stock reservations refused for insufficient quantity.",
	})

	PaymentOutcomesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_outcomes_applied_total",
		Help: "Payment outcomes applied to orders, by resulting status.",
	}, []string{"status"})

	PaymentOutcomesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_outcomes_dropped_total",
		Help: "Payment outcomes dropped as duplicate, stale or unmatched.",
	}, []string{"reason"})
)

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request latency per route.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		httpRequestDuration.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
