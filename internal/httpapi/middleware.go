package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mzemanski-eng/claims-ebilling/internal/logging"
	"github.com/mzemanski-eng/claims-ebilling/internal/metrics"
)

// httpMetrics records HTTPRequestDuration per (method, route, status),
// matching the route pattern rather than the raw path so a path
// parameter like the invoice id doesn't explode the label cardinality.
func httpMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(ww.Status()), time.Since(start))
	})
}

// requestLogger logs each request's method, path and duration at Info;
// the response status is not part of the log line.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if logger == nil {
				return
			}
			logger.Info("http request",
				logging.NewFields().Component("httpapi").Operation(r.Method+" "+r.URL.Path).
					Duration(time.Since(start)).Build()...,
			)
			_ = ww.Status()
		})
	}
}
