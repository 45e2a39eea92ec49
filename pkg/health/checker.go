// Package health serves the liveness and readiness endpoints of the signup
// services.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Anvisninger/signup-flow/pkg/core"
)

// Status represents the health status of a service.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the result of a single health check.
type CheckResult struct {
	Status Status `json:"status"`

	// milliseconds
	Duration time.Duration `json:"duration_ms"`

	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
}

// HealthStatus is the overall health status.
type HealthStatus struct {
	Status    Status                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service,omitempty"`
	Version   string                 `json:"version,omitempty"`
}

// Check defines a single health check.
type Check struct {
	Name    string
	Check   func(ctx context.Context) error
	Timeout time.Duration

	// Critical failures make the service unready.
	Critical bool
}

// Checker runs the registered checks.
type Checker struct {
	checks  []Check
	service string
	version string
	mu      sync.RWMutex
}

// NewChecker creates a checker for the named service.
func NewChecker(service string) *Checker {
	return &Checker{
		checks:  make([]Check, 0),
		service: service,
	}
}

// SetVersion sets the version shown in health responses.
func (hc *Checker) SetVersion(version string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.version = version
}

// AddCheck adds a non-critical check. A failure reports the service as
// degraded but still ready.
func (hc *Checker) AddCheck(name string, check func(context.Context) error, timeout time.Duration) {
	hc.add(Check{Name: name, Check: check, Timeout: timeout})
}

// AddCriticalCheck adds a check whose failure makes the service unready.
func (hc *Checker) AddCriticalCheck(name string, check func(context.Context) error, timeout time.Duration) {
	hc.add(Check{Name: name, Check: check, Timeout: timeout, Critical: true})
}

func (hc *Checker) add(c Check) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks = append(hc.checks, c)
}

// Check runs all checks concurrently and returns the overall status.
func (hc *Checker) Check(ctx context.Context) HealthStatus {
	hc.mu.RLock()
	checks := make([]Check, len(hc.checks))
	copy(checks, hc.checks)
	service, version := hc.service, hc.version
	hc.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusHealthy,
		Checks:    make(map[string]CheckResult, len(checks)),
		Timestamp: time.Now(),
		Service:   service,
		Version:   version,
	}

	type checkResult struct {
		name     string
		result   CheckResult
		critical bool
	}

	results := make(chan checkResult, len(checks))
	var wg sync.WaitGroup

	for _, c := range checks {
		wg.Add(1)
		go func(check Check) {
			defer wg.Done()

			timeout := check.Timeout
			if timeout == 0 {
				timeout = 5 * time.Second
			}

			start := time.Now()
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			err := check.Check(checkCtx)

			result := CheckResult{
				Status:   StatusHealthy,
				Duration: time.Since(start) / time.Millisecond,
			}
			if err != nil {
				result.Status = StatusUnhealthy
				result.Error = err.Error()
				if he, ok := err.(*HealthError); ok {
					result.Details = he.Details
				}
			}

			results <- checkResult{name: check.Name, result: result, critical: check.Critical}
		}(c)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		status.Checks[r.name] = r.result

		if r.result.Status != StatusHealthy {
			if r.critical {
				status.Status = StatusUnhealthy
			} else if status.Status == StatusHealthy {
				status.Status = StatusDegraded
			}
		}
	}

	return status
}

// LivenessHandler answers 200 while the process is running.
func (hc *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "alive",
			"service":   hc.service,
			"timestamp": time.Now(),
		})
	})
}

// ReadinessHandler answers 200 when no critical check fails, 503 otherwise.
func (hc *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := hc.Check(r.Context())

		code := http.StatusOK
		if status.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	})
}

// Register mounts /healthz and /readyz on mux.
func (hc *Checker) Register(mux interface {
	Handle(pattern string, handler http.Handler)
}) {
	mux.Handle("GET /healthz", hc.LivenessHandler())
	mux.Handle("GET /readyz", hc.ReadinessHandler())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// BreakerCheck fails while the upstream's circuit is open.
func BreakerCheck(cb *core.CircuitBreaker) func(context.Context) error {
	return func(ctx context.Context) error {
		if cb.State() != core.CircuitOpen {
			return nil
		}
		m := cb.Metrics()
		return &HealthError{
			Message: "upstream " + cb.Name() + " unavailable",
			Details: map[string]any{
				"state":      m.State.String(),
				"errors":     m.ErrorCount,
				"last_error": m.LastError,
			},
		}
	}
}

// SessionCapacityCheck fails when live sessions reach max.
func SessionCapacityCheck(count func() int, max int) func(context.Context) error {
	return func(ctx context.Context) error {
		current := count()
		if max > 0 && current >= max {
			return &HealthError{
				Message: "live sessions at capacity",
				Details: map[string]any{"current": current, "max": max},
			}
		}
		return nil
	}
}

// HealthError is a check failure with details.
type HealthError struct {
	Message string
	Details map[string]any
}

func (e *HealthError) Error() string {
	return e.Message
}
