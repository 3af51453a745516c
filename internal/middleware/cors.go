package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig contains CORS configuration.
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns default CORS configuration.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", RequestIDHeader},
		MaxAge:       86400,
	}
}

// corsHeaders holds pre-computed CORS header values.
type corsHeaders struct {
	allowOrigins     map[string]bool
	wildcardPatterns []string // patterns like "*.example.com"
	allowAllOrigins  bool
	allowMethods     string
	allowHeaders     string
	exposeHeaders    string
	maxAge           string
	allowCredentials bool
}

func newCORSHeaders(cfg CORSConfig) *corsHeaders {
	h := &corsHeaders{
		allowOrigins:     make(map[string]bool),
		allowMethods:     strings.Join(cfg.AllowMethods, ", "),
		allowHeaders:     strings.Join(cfg.AllowHeaders, ", "),
		exposeHeaders:    strings.Join(cfg.ExposeHeaders, ", "),
		allowCredentials: cfg.AllowCredentials,
	}

	for _, origin := range cfg.AllowOrigins {
		switch {
		case origin == "*":
			h.allowAllOrigins = true
		case strings.HasPrefix(origin, "*."):
			h.wildcardPatterns = append(h.wildcardPatterns, origin)
		default:
			h.allowOrigins[origin] = true
		}
	}

	if cfg.MaxAge > 0 {
		h.maxAge = strconv.Itoa(cfg.MaxAge)
	}

	return h
}

// originAllowed reports whether the origin may access the resource.
func (h *corsHeaders) originAllowed(origin string) bool {
	if h.allowAllOrigins || h.allowOrigins[origin] {
		return true
	}
	for _, p := range h.wildcardPatterns {
		suffix := strings.TrimPrefix(p, "*")
		if strings.HasSuffix(origin, suffix) {
			return true
		}
	}
	return false
}

// CORS returns a middleware that applies CORS headers after dispatch
// resolution and answers preflight requests.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	h := newCORSHeaders(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !h.originAllowed(origin) {
				next.ServeHTTP(w, r)
				return
			}

			hdr := w.Header()
			if h.allowAllOrigins && !h.allowCredentials {
				hdr.Set("Access-Control-Allow-Origin", "*")
			} else {
				hdr.Set("Access-Control-Allow-Origin", origin)
				hdr.Add("Vary", "Origin")
			}
			if h.allowCredentials {
				hdr.Set("Access-Control-Allow-Credentials", "true")
			}
			if h.exposeHeaders != "" {
				hdr.Set("Access-Control-Expose-Headers", h.exposeHeaders)
			}

			if r.Method == http.MethodOptions {
				if h.allowMethods != "" {
					hdr.Set("Access-Control-Allow-Methods", h.allowMethods)
				}
				if h.allowHeaders != "" {
					hdr.Set("Access-Control-Allow-Headers", h.allowHeaders)
				}
				if h.maxAge != "" {
					hdr.Set("Access-Control-Max-Age", h.maxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
