// Package security provides the origin allow-list shared by the proxies and
// the live socket upgrade.
package security

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy is an allow-list of exact browser origins.
// A nil policy allows nothing.
type OriginPolicy struct {
	origins map[string]struct{}
	any     bool
}

// NewOriginPolicy creates a policy from a list of origins. Blank entries are
// ignored and "*" allows every origin.
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{origins: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if o == "*" {
			p.any = true
			continue
		}
		p.origins[o] = struct{}{}
	}
	return p
}

// Allowed reports whether origin is on the list.
func (p *OriginPolicy) Allowed(origin string) bool {
	if p == nil || origin == "" {
		return false
	}
	if p.any {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// Origins returns the configured origins.
func (p *OriginPolicy) Origins() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.origins))
	for o := range p.origins {
		out = append(out, o)
	}
	return out
}

// SameOrigin reports whether origin names host. Requests without an Origin
// header are treated as same-origin.
func SameOrigin(origin, host string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	Policy  *OriginPolicy
	Methods []string
	Headers []string
}

// CORS rejects requests from origins outside the policy with a 403 JSON
// body, answers preflight requests and echoes the allowed origin.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	methods := "GET,OPTIONS"
	if len(cfg.Methods) > 0 {
		methods = strings.Join(cfg.Methods, ",")
	}
	headers := "Content-Type"
	if len(cfg.Headers) > 0 {
		headers = strings.Join(cfg.Headers, ",")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if !cfg.Policy.Allowed(origin) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(map[string]string{"error": "Origin not allowed"})
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
