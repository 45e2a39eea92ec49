// Package cvr serves company lookups by CVR number, backed by cvr.dev.
package cvr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Anvisninger/signup-flow/pkg/core"
	"github.com/Anvisninger/signup-flow/pkg/logging"
	"github.com/Anvisninger/signup-flow/pkg/lookup"
	"github.com/Anvisninger/signup-flow/pkg/retry"
	"github.com/Anvisninger/signup-flow/pkg/security"
	"github.com/Anvisninger/signup-flow/pkg/state"
)

// Defaults.
const (
	DefaultAPIBase  = "https://api.cvr.dev/api"
	DefaultCacheTTL = time.Hour
	DefaultTimeout  = 10 * time.Second

	debugSampleSize = 800
)

// DefaultOrigins are the signup page origins.
var DefaultOrigins = []string{
	"https://anvisninger-dk-e81a432f7570a8eceb515ecb.webflow.io",
	"https://anvisninger.dk",
	"https://www.anvisninger.dk",
}

// Config configures the proxy.
type Config struct {
	APIBase string
	APIKey  string
	Origins []string

	// CacheTTL is how long successful lookups are served from the store.
	CacheTTL time.Duration

	// Timeout bounds one lookup, both upstream calls included.
	Timeout time.Duration

	HTTPClient *http.Client
	Store      state.Store
	Breaker    *core.CircuitBreaker
	Retry      *retry.Config
	Logger     logging.Logger
}

// Response is the body of a successful lookup.
type Response struct {
	CVR             string          `json:"cvr"`
	Name            *string         `json:"name"`
	Address         *string         `json:"address"`
	AddressObject   *lookup.Address `json:"addressObject"`
	Employees       *int            `json:"employees"`
	EmployeesSource string          `json:"employeesSource"`
	EmployeesPeriod *string         `json:"employeesPeriod"`
	IsSoleTrade     bool            `json:"isSoleTrade"`
	Debug           map[string]any  `json:"debug,omitempty"`
}

// Handler is the /cvr proxy.
type Handler struct {
	cfg      Config
	upstream *upstream
	store    state.Store
	breaker  *core.CircuitBreaker
	group    singleflight.Group
	logger   logging.Logger
	handler  http.Handler
}

// NewHandler creates the proxy. A nil Store gets an in-memory store, a nil
// Breaker one with default settings.
func NewHandler(cfg Config) *Handler {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
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
	if cfg.Store == nil {
		cfg.Store = state.NewMemoryStore(state.WithMaxItems(10000))
	}
	if cfg.Breaker == nil {
		bc := core.DefaultCircuitBreakerConfig()
		bc.Name = "cvr.dev"
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
		upstream: &upstream{
			base:   cfg.APIBase,
			apiKey: cfg.APIKey,
			http:   cfg.HTTPClient,
			retry:  cfg.Retry,
		},
		store:   cfg.Store,
		breaker: cfg.Breaker,
		logger:  logging.OrNop(cfg.Logger),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/cvr", h.lookup)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not found", http.StatusNotFound)
	})

	h.handler = security.CORS(security.CORSConfig{
		Policy: security.NewOriginPolicy(cfg.Origins),
	})(mux)

	return h
}

// Breaker returns the circuit breaker guarding cvr.dev.
func (h *Handler) Breaker() *core.CircuitBreaker {
	return h.breaker
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// result is a rendered lookup answer.
type result struct {
	status int
	body   []byte
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cvr := stripSpace(q.Get("cvr"))
	debug := q.Get("debug") == "1"

	if !ValidCVR(cvr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid CVR. Must be 8 digits."}, "")
		return
	}

	log := logging.L(r.Context()).With(logging.String("cvr", cvr))
	key := "cvr:" + r.URL.RawQuery

	if !debug {
		if body, err := h.store.Get(r.Context(), key); err == nil {
			w.Header().Set("X-Cache", "HIT")
			writeRaw(w, http.StatusOK, body, h.cacheControl())
			return
		}
	}

	flightKey := key
	if debug {
		flightKey = "debug:" + key
	}

	v, err, _ := h.group.Do(flightKey, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.cfg.Timeout)
		defer cancel()

		res, err := h.fetch(ctx, cvr, debug)
		if err == nil && !debug && res.status == http.StatusOK {
			if err := h.store.Set(ctx, key, res.body, h.cfg.CacheTTL); err != nil {
				log.Warn("cache store failed", logging.Err(err))
			}
		}
		return res, err
	})
	if err != nil {
		if errors.Is(err, core.ErrCircuitOpen) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Upstream unavailable"}, "")
			return
		}
		log.Warn("company lookup failed", logging.Err(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "Company lookup failed"}, "")
		return
	}

	res := v.(*result)
	if res.status != http.StatusOK {
		writeRaw(w, res.status, res.body, "")
		return
	}

	w.Header().Set("X-Cache", "MISS")
	writeRaw(w, http.StatusOK, res.body, h.cacheControl())
}

func (h *Handler) cacheControl() string {
	return "public, max-age=" + strconv.Itoa(int(h.cfg.CacheTTL.Seconds()))
}

// errUpstreamStatus marks a 5xx company answer. It counts against the
// breaker while the answer itself is still relayed.
var errUpstreamStatus = errors.New("cvr upstream server error")

// fetch queries the company and headcount endpoints in parallel. The
// headcount call is best effort.
func (h *Handler) fetch(ctx context.Context, cvr string, debug bool) (*result, error) {
	var headcount *reply
	company, err := core.ExecuteWithResult(h.breaker, func() (*reply, error) {
		var company *reply
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			company, err = h.upstream.company(gctx, cvr)
			return err
		})
		g.Go(func() error {
			var err error
			if headcount, err = h.upstream.headcount(gctx, cvr); err != nil {
				h.logger.Debug("headcount lookup failed", logging.String("cvr", cvr), logging.Err(err))
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			return nil, err
		}
		if company.Status >= 500 {
			return company, errUpstreamStatus
		}
		return company, nil
	})
	if err != nil && !errors.Is(err, errUpstreamStatus) {
		return nil, err
	}

	return h.build(cvr, company, headcount, debug)
}

func (h *Handler) build(cvr string, company, headcountReply *reply, debug bool) (*result, error) {
	if !company.ok() {
		body := map[string]any{"error": fmt.Sprintf("Company lookup failed (%d)", company.Status)}
		if debug {
			body["companySample"] = sample(company.Body)
		}
		return render(company.Status, body)
	}

	if !json.Valid(company.Body) {
		body := map[string]any{"error": "Upstream returned invalid JSON."}
		if debug {
			body["companySample"] = sample(company.Body)
		}
		return render(http.StatusBadGateway, body)
	}

	var records []record
	if trimmed := bytes.TrimSpace(company.Body); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return render(http.StatusBadGateway, map[string]any{"error": "Upstream returned invalid JSON."})
		}
	}
	if len(records) == 0 {
		return render(http.StatusNotFound, map[string]any{"error": "Company not found."})
	}
	rec := &records[0]

	var counts []headcount
	if headcountReply.ok() {
		parsed, err := parseHeadcounts(headcountReply.Body)
		if err != nil {
			h.logger.Debug("headcount body unparseable", logging.String("cvr", cvr), logging.Err(err))
		}
		counts = parsed
	}

	addr := rec.address()
	prov := employees(rec, counts)

	resp := Response{
		CVR:             cvr,
		Name:            nullable(rec.name()),
		Address:         nullable(formatAddress(addr)),
		AddressObject:   billingAddress(addr),
		Employees:       prov.Employees,
		EmployeesSource: prov.Source,
		EmployeesPeriod: nullable(prov.Period),
		IsSoleTrade:     rec.isSoleTrade(),
	}
	if debug {
		resp.Debug = debugDetails(rec, prov, company, headcountReply)
	}
	return render(http.StatusOK, resp)
}

func debugDetails(rec *record, p provenance, company, headcount *reply) map[string]any {
	details := map[string]any{
		"companyStatus":   company.Status,
		"ansatteStatus":   nil,
		"employeesSource": p.Source,
		"employeesPeriod": nullable(p.Period),
		"ansatteLatest":   nil,
		"latestMonthly":   nil,
		"latestQuarterly": nil,
		"latestAnnual":    nil,
		"metadataMonthly": nil,
	}
	if headcount != nil {
		details["ansatteStatus"] = headcount.Status
	}
	if hc := p.Headcount; hc != nil {
		details["ansatteLatest"] = map[string]any{
			"dato":                  hc.Dato,
			"ansatte":               hc.Ansatte,
			"interval":              string(hc.Interval),
			"rapporteringsinterval": string(hc.Rapporteringsinterval),
		}
	}
	if m := p.Monthly; m != nil {
		details["latestMonthly"] = map[string]any{"aar": m.Aar, "maaned": m.Maaned, "antalAnsatte": m.AntalAnsatte, "intervalKode": string(m.IntervalKode)}
	}
	if q := p.Quarterly; q != nil {
		details["latestQuarterly"] = map[string]any{"aar": q.Aar, "kvartal": q.Kvartal, "antalAnsatte": q.AntalAnsatte, "intervalKode": string(q.IntervalKode)}
	}
	if a := p.Annual; a != nil {
		details["latestAnnual"] = map[string]any{"aar": a.Aar, "antalAnsatte": a.AntalAnsatte, "intervalKode": string(a.IntervalKode)}
	}
	if m := rec.Metadata.NyesteMaanedsbeskaeftigelse; m != nil {
		details["metadataMonthly"] = map[string]any{"aar": m.Aar, "maaned": m.Maaned, "antalAnsatte": m.AntalAnsatte}
	}
	return details
}

// ValidCVR reports whether s is exactly eight ASCII digits.
func ValidCVR(s string) bool {
	if len(s) != 8 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sample(b []byte) string {
	if len(b) > debugSampleSize {
		b = b[:debugSampleSize]
	}
	return string(b)
}

func render(status int, v any) (*result, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return &result{status: status, body: body}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any, cacheControl string) {
	body, _ := json.Marshal(v)
	writeRaw(w, status, body, cacheControl)
}

func writeRaw(w http.ResponseWriter, status int, body []byte, cacheControl string) {
	w.Header().Set("Content-Type", "application/json")
	if cacheControl != "" {
		w.Header().Set("Cache-Control", cacheControl)
	}
	w.WriteHeader(status)
	w.Write(body)
}
