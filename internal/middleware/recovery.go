package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/routegate/routegate/internal/observability"
	"github.com/routegate/routegate/internal/util"
)

// Recovery returns a middleware that recovers from panics anywhere in
// the handler chain. Route handler panics are already contained by the
// dispatcher; this is the outer guard for the middleware stack itself.
func Recovery(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						observability.String("path", r.URL.Path),
						observability.String("method", r.Method),
						observability.Any("error", err),
						observability.String("stack", string(debug.Stack())),
					)

					util.WriteJSONError(w, http.StatusInternalServerError,
						"Internal Server Error", "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
