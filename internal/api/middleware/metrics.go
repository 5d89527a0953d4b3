package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/eddynotadi/mosquito-hunter/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// RequestLogger logs one line per request and records it in m, labelled
// by route pattern rather than raw path.
func RequestLogger(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			duration := time.Since(start)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			slog.Info("http request",
				"method", r.Method,
				"route", route,
				"status", status,
				"duration", duration,
				"request_id", chiMiddleware.GetReqID(r.Context()),
			)
			if m != nil {
				m.RequestCount.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
				m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
			}
		})
	}
}
