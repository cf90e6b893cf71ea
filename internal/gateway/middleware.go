// internal/gateway/middleware.go
package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/sauliuspr-reya/reya-workers/pkg/logging"
	"github.com/sauliuspr-reya/reya-workers/pkg/metrics"
)

// RequestLogging logs one structured line per request.
func RequestLogging(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("Request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// MetricsMiddleware records request count, duration and in-flight gauges.
func MetricsMiddleware(m *metrics.Metrics, service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.RequestInFlight.WithLabelValues(service).Inc()
			defer m.RequestInFlight.WithLabelValues(service).Dec()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			m.RequestCount.WithLabelValues(service, r.Method, r.URL.Path, strconv.Itoa(ww.Status())).Inc()
			m.RequestDuration.WithLabelValues(service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

// RecovererWithMetrics converts panics into 500 responses and counts them.
func RecovererWithMetrics(logger *logging.Logger, m *metrics.Metrics, service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Panic in request handler",
						"path", r.URL.Path, "panic", rec)
					m.ErrorCount.WithLabelValues(service, "panic", "500").Inc()
					http.Error(w, `{"success":false,"error":"Internal server error"}`,
						http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
