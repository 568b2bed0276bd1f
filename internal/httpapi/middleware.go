package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hugodecasta/captain/pkg/log"
	"github.com/hugodecasta/captain/pkg/metrics"
)

// requestLogger logs method, route, status, and duration for every request,
// tagging each with a UUID correlation ID for cross-component tracing.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := routePattern(r)
		log.Logger.Info().
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("route", route).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("http request")

		metrics.HTTPRequestsTotal.WithLabelValues(route, http.StatusText(sw.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// recoverer turns a panic in any handler into a 500 instead of taking down
// the HTTP server; the control loop and other handlers are unaffected.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("http handler panicked")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}
