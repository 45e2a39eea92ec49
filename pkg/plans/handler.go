// Package plans serves the plan lookup and email existence check, backed by
// the Outseta API.
package plans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Anvisninger/signup-flow/pkg/core"
	"github.com/Anvisninger/signup-flow/pkg/logging"
	"github.com/Anvisninger/signup-flow/pkg/lookup"
	"github.com/Anvisninger/signup-flow/pkg/retry"
	"github.com/Anvisninger/signup-flow/pkg/security"
)

// Defaults.
const (
	DefaultBaseURL        = "https://anvisninger.outseta.com/api/v1"
	DefaultPlanFamilyName = "OffentligtUdbud - Prismodel 2026"
	DefaultTimeout        = 10 * time.Second

	detailsSize = 500
)

// DefaultOrigins are the signup page origins.
var DefaultOrigins = []string{
	"https://anvisninger-dk-e81a432f7570a8eceb515ecb.webflow.io",
	"https://anvisninger.dk",
}

// Email check messages.
const (
	MessageEmailExists    = "Email address is already registered to an account"
	MessageEmailAvailable = "Email is available"
)

// Config configures the proxy.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string

	PlanFamilyName string
	Origins        []string
	Timeout        time.Duration

	HTTPClient *http.Client
	Breaker    *core.CircuitBreaker
	Retry      *retry.Config
	Logger     logging.Logger
}

// Handler serves /plans and /check-email.
type Handler struct {
	cfg     Config
	outseta *outseta
	breaker *core.CircuitBreaker
	group   singleflight.Group
	logger  logging.Logger
	handler http.Handler
}

// NewHandler creates the proxy.
func NewHandler(cfg Config) *Handler {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PlanFamilyName == "" {
		cfg.PlanFamilyName = DefaultPlanFamilyName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Origins == nil {
		cfg.Origins = DefaultOrigins
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Breaker == nil {
		bc := core.DefaultCircuitBreakerConfig()
		bc.Name = "outseta"
		cfg.Breaker = core.NewCircuitBreaker(bc)
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Retry.RetryIf == nil {
		rc := *cfg.Retry
		rc.RetryIf = retryTransport
		cfg.Retry = &rc
	}

	h := &Handler{
		cfg: cfg,
		outseta: &outseta{
			base:   cfg.BaseURL,
			key:    cfg.APIKey,
			secret: cfg.APISecret,
			http:   cfg.HTTPClient,
			retry:  cfg.Retry,
		},
		breaker: cfg.Breaker,
		logger:  logging.OrNop(cfg.Logger),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/plans", h.plans)
	mux.HandleFunc("/check-email", h.checkEmail)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not found", http.StatusNotFound)
	})

	h.handler = security.CORS(security.CORSConfig{
		Policy:  security.NewOriginPolicy(cfg.Origins),
		Headers: []string{"Content-Type", "Authorization"},
	})(mux)

	return h
}

// Breaker returns the circuit breaker guarding Outseta.
func (h *Handler) Breaker() *core.CircuitBreaker {
	return h.breaker
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// errUpstream carries a non-2xx Outseta answer.
type errUpstream struct {
	reply *reply
}

func (e *errUpstream) Error() string {
	return fmt.Sprintf("Outseta error (%d)", e.reply.Status)
}

// call runs fn behind the breaker. 5xx answers and transport failures count
// against Outseta.
func (h *Handler) call(ctx context.Context, fn func(context.Context) (*reply, error)) (*reply, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	res, err := core.ExecuteWithResult(h.breaker, func() (*reply, error) {
		res, err := fn(ctx)
		if err == nil && res.Status >= 500 {
			return res, &errUpstream{reply: res}
		}
		return res, err
	})
	if err != nil {
		return nil, err
	}
	if !res.ok() {
		return nil, &errUpstream{reply: res}
	}
	return res, nil
}

func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var up *errUpstream
	switch {
	case errors.As(err, &up):
		writeJSON(w, up.reply.Status, map[string]any{"error": up.Error(), "details": truncateRunes(string(up.reply.Body), detailsSize)})
	case errors.Is(err, core.ErrCircuitOpen):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Upstream unavailable"})
	default:
		logging.L(r.Context()).Warn("outseta request failed", logging.Err(err))
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "Outseta request failed"})
	}
}

// truncateRunes cuts s to at most n characters.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// planResponse is the /plans body.
type planResponse struct {
	PlanFamilyName string        `json:"planFamilyName"`
	Plans          []lookup.Plan `json:"plans"`
	Employees      *float64      `json:"employees,omitempty"`
	Plan           *lookup.Plan  `json:"plan"`

	withSelection bool
}

func (p planResponse) MarshalJSON() ([]byte, error) {
	type body planResponse
	if p.withSelection {
		return json.Marshal(body(p))
	}
	return json.Marshal(struct {
		PlanFamilyName string        `json:"planFamilyName"`
		Plans          []lookup.Plan `json:"plans"`
	}{p.PlanFamilyName, p.Plans})
}

func (h *Handler) plans(w http.ResponseWriter, r *http.Request) {
	employees, ok := parseEmployees(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid employees parameter"})
		return
	}

	v, err, _ := h.group.Do("planfamilies", func() (any, error) {
		return h.call(context.WithoutCancel(r.Context()), h.outseta.planFamilies)
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	var families planFamilies
	if err := json.Unmarshal(v.(*reply).Body, &families); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "Outseta returned invalid JSON"})
		return
	}

	family := families.find(h.cfg.PlanFamilyName)
	if family == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":                 "PlanFamily not found: " + h.cfg.PlanFamilyName,
			"availablePlanFamilies": families.names(),
		})
		return
	}

	resp := planResponse{
		PlanFamilyName: h.cfg.PlanFamilyName,
		Plans:          normalize(family),
	}
	if employees != nil {
		resp.withSelection = true
		resp.Employees = employees
		resp.Plan = SelectPlan(resp.Plans, *employees)
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseEmployees reads the optional employees parameter. A present but
// empty, negative or non-numeric value is invalid.
func parseEmployees(r *http.Request) (*float64, bool) {
	q := r.URL.Query()
	if !q.Has("employees") {
		return nil, true
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(q.Get("employees")), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
		return nil, false
	}
	return &n, true
}

func (h *Handler) checkEmail(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing email parameter"})
		return
	}

	res, err := h.call(r.Context(), func(ctx context.Context) (*reply, error) {
		return h.outseta.people(ctx, email)
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	var people peopleList
	if err := json.Unmarshal(res.Body, &people); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "Outseta returned invalid JSON"})
		return
	}

	exists := len(people.Items) > 0 && people.Items[0] != nil && people.Items[0].hasAccount()
	logging.L(r.Context()).Debug("email checked", logging.Bool("exists", exists))

	msg := MessageEmailAvailable
	if exists {
		msg = MessageEmailExists
	}
	writeJSON(w, http.StatusOK, lookup.EmailCheck{Email: email, Exists: exists, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
