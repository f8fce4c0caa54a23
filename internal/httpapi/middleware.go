package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"alerthub/internal/metrics"

	"github.com/go-chi/chi/v5"
)

// statusWriter captures status code and keeps streaming responses flushable.
type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// observe records request metrics and logs failed or slow requests.
// Params: logger for request lines.
// Returns: chi middleware.
func observe(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			route := routePattern(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
			elapsed := time.Since(start)
			if wrapped.status >= http.StatusInternalServerError {
				logger.Error("http request failed", "method", r.Method, "route", route, "status", wrapped.status, "duration", elapsed)
				return
			}
			logger.Debug("http request", "method", r.Method, "route", route, "status", wrapped.status, "bytes", wrapped.size, "duration", elapsed)
		})
	}
}

// routePattern extracts the route pattern from chi context.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unmatched"
}
