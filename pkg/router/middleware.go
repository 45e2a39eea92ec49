package router

import (
	"net/http"
	"runtime/debug"
	"strconv"

	"github.com/Anvisninger/signup-flow/pkg/logging"
)

// Recovery turns a panic in a handler into a logged 500.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logging.L(r.Context()).Error("panic in handler",
						logging.Any("panic", rec),
						logging.String("stack", string(debug.Stack())),
					)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// SecureHeadersConfig configures security headers.
type SecureHeadersConfig struct {
	// FrameAncestors is the CSP frame-ancestors source list. The wizard is
	// embedded on the marketing site, so this lists the allowed origins.
	// Default: 'self'
	FrameAncestors []string

	// ReferrerPolicy sets the Referrer-Policy header.
	// Default: "strict-origin-when-cross-origin"
	ReferrerPolicy string

	// HSTSMaxAge is the HSTS max-age in seconds, sent over HTTPS only
	// (0 disables).
	HSTSMaxAge int
}

// DefaultSecureHeadersConfig returns the default configuration.
func DefaultSecureHeadersConfig() SecureHeadersConfig {
	return SecureHeadersConfig{
		ReferrerPolicy: "strict-origin-when-cross-origin",
		HSTSMaxAge:     31536000,
	}
}

// SecureHeaders adds security headers with the default configuration.
func SecureHeaders() Middleware {
	return SecureHeadersWithConfig(DefaultSecureHeadersConfig())
}

// SecureHeadersWithConfig adds security headers.
func SecureHeadersWithConfig(config SecureHeadersConfig) Middleware {
	ancestors := "'self'"
	for _, o := range config.FrameAncestors {
		ancestors += " " + o
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Content-Security-Policy", "frame-ancestors "+ancestors)

			if config.ReferrerPolicy != "" {
				h.Set("Referrer-Policy", config.ReferrerPolicy)
			}

			if config.HSTSMaxAge > 0 && (r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https") {
				h.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(config.HSTSMaxAge)+"; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
