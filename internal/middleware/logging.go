package middleware

import (
	"net/http"
	"time"

	"github.com/routegate/routegate/internal/observability"
	"github.com/routegate/routegate/internal/util"
)

// Logging returns a middleware that logs request completion with
// method, path, status and duration. Log emission never alters the
// response.
func Logging(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := util.NewStatusCapturingResponseWriter(w)

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			requestID := util.RequestIDFromContext(r.Context())

			logger.Info("http request",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.String("query", r.URL.RawQuery),
				observability.Int("status", rw.StatusCode),
				observability.Int("size", rw.Size),
				observability.Duration("duration", duration),
				observability.String("request_id", requestID),
				observability.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
