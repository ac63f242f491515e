package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSOptions defines configuration for CORS.
type CORSOptions struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	// MaxAge is how long, in seconds, browsers may cache a preflight response. Zero omits it.
	MaxAge int
}

func defaultCORSOptions() *CORSOptions {
	return &CORSOptions{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           600,
	}
}

// CORSWithOptions creates a CORS middleware. A nil options uses the defaults; an empty
// CORSOptions{} sets no CORS headers. Preflight requests are answered with 204.
func CORSWithOptions(options *CORSOptions) func(http.Handler) http.Handler {
	if options == nil {
		options = defaultCORSOptions()
	}
	methods := strings.Join(options.AllowedMethods, ",")
	headers := strings.Join(options.AllowedHeaders, ",")
	exposed := strings.Join(options.ExposedHeaders, ",")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if origin := allowOrigin(options.AllowedOrigins, r.Header.Get("Origin"), options.AllowCredentials); origin != "" {
				h.Set("Access-Control-Allow-Origin", origin)
				if origin != "*" {
					h.Add("Vary", "Origin")
				}
			}
			if options.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if exposed != "" {
				h.Set("Access-Control-Expose-Headers", exposed)
			}

			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			if methods != "" {
				h.Set("Access-Control-Allow-Methods", methods)
			}
			if headers != "" {
				h.Set("Access-Control-Allow-Headers", headers)
			}
			if options.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(options.MaxAge))
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

// allowOrigin returns the Access-Control-Allow-Origin value for a request origin. A single
// configured origin is always sent; with several, the matching request origin is echoed.
// Browsers reject "*" on credentialed requests, so a wildcard echoes the origin when
// credentials are allowed.
func allowOrigin(allowed []string, origin string, credentials bool) string {
	switch {
	case len(allowed) == 0:
		return ""
	case slices.Contains(allowed, "*"):
		if credentials && origin != "" {
			return origin
		}
		return "*"
	case len(allowed) == 1:
		return allowed[0]
	case origin != "" && slices.Contains(allowed, origin):
		return origin
	default:
		return ""
	}
}
