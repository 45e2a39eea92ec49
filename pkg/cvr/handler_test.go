package cvr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Anvisninger/signup-flow/pkg/core"
	"github.com/Anvisninger/signup-flow/pkg/retry"
)

const testOrigin = "https://anvisninger.dk"

const companyJSON = `[{
	"virksomhedMetadata": {
		"nyesteNavn": {"navn": "Anvisninger ApS"},
		"nyesteVirksomhedsform": {"kortBeskrivelse": "APS"},
		"nyesteBeliggenhedsadresse": {"vejnavn": "Vesterbrogade", "husnummerFra": 1, "postnummer": 1620, "postdistrikt": "København V"}
	},
	"maanedsbeskaeftigelse": [{"aar": 2024, "maaned": 5, "antalAnsatte": 12}]
}]`

// fakeCVRDev serves the two cvr.dev endpoints.
type fakeCVRDev struct {
	companyStatus int
	companyBody   string
	ansatteStatus int
	ansatteBody   string

	companyCalls atomic.Int32
	auth         atomic.Value
}

func (f *fakeCVRDev) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/cvr/virksomhed", func(w http.ResponseWriter, r *http.Request) {
		f.companyCalls.Add(1)
		f.auth.Store(r.Header.Get("Authorization"))
		if r.URL.Query().Get("cvr_nummer") == "" {
			t.Errorf("expected cvr_nummer query")
		}
		status := f.companyStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		w.Write([]byte(f.companyBody))
	})
	mux.HandleFunc("/cvrdev/virksomhed/ansatte", func(w http.ResponseWriter, r *http.Request) {
		status := f.ansatteStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		w.Write([]byte(f.ansatteBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestHandler(t *testing.T, f *fakeCVRDev) *Handler {
	t.Helper()
	srv := f.server(t)
	return NewHandler(Config{
		APIBase: srv.URL,
		APIKey:  "test-key",
		Retry:   &retry.Config{MaxRetries: 0},
	})
}

func get(h http.Handler, target, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestLookup_Success(t *testing.T) {
	f := &fakeCVRDev{companyBody: companyJSON, ansatteBody: `{"ansatte":[{"dato":"2025-03-01","ansatte":14}]}`}
	h := newTestHandler(t, f)

	rec := get(h, "/cvr?cvr=1234%205678", testOrigin)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != testOrigin {
		t.Errorf("expected CORS origin echoed, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if rec.Header().Get("Cache-Control") != "public, max-age=3600" {
		t.Errorf("unexpected Cache-Control %q", rec.Header().Get("Cache-Control"))
	}
	if auth, _ := f.auth.Load().(string); auth != "Bearer test-key" {
		t.Errorf("expected bearer auth, got %q", auth)
	}

	body := decode(t, rec)
	if body["cvr"] != "12345678" || body["name"] != "Anvisninger ApS" {
		t.Errorf("unexpected body %v", body)
	}
	if body["address"] != "Vesterbrogade 1, 1620 København V" {
		t.Errorf("unexpected address %v", body["address"])
	}
	if body["employees"] != float64(14) || body["employeesSource"] != "ansatte" || body["employeesPeriod"] != "2025-03-01" {
		t.Errorf("unexpected employees %v/%v/%v", body["employees"], body["employeesSource"], body["employeesPeriod"])
	}
	if body["isSoleTrade"] != false {
		t.Errorf("expected not a sole trade")
	}
	addr, _ := body["addressObject"].(map[string]any)
	if addr["PostalCode"] != "1620" || addr["Country"] != "Denmark" {
		t.Errorf("unexpected address object %v", addr)
	}
	if _, ok := body["debug"]; ok {
		t.Error("expected no debug details")
	}
}

func TestLookup_HeadcountFailureFallsBack(t *testing.T) {
	f := &fakeCVRDev{companyBody: companyJSON, ansatteStatus: http.StatusForbidden, ansatteBody: `{"error":"no"}`}
	h := newTestHandler(t, f)

	body := decode(t, get(h, "/cvr?cvr=12345678", testOrigin))
	if body["employees"] != float64(12) || body["employeesSource"] != "monthly" || body["employeesPeriod"] != "2024-05" {
		t.Errorf("expected monthly fallback, got %v", body)
	}
}

func TestLookup_Cache(t *testing.T) {
	f := &fakeCVRDev{companyBody: companyJSON}
	h := newTestHandler(t, f)

	get(h, "/cvr?cvr=12345678", testOrigin)
	rec := get(h, "/cvr?cvr=12345678", testOrigin)

	if rec.Header().Get("X-Cache") != "HIT" {
		t.Errorf("expected cache hit, got %q", rec.Header().Get("X-Cache"))
	}
	if n := f.companyCalls.Load(); n != 1 {
		t.Errorf("expected one upstream call, got %d", n)
	}

	rec = get(h, "/cvr?cvr=12345678&debug=1", testOrigin)
	if n := f.companyCalls.Load(); n != 2 {
		t.Errorf("expected debug to bypass the cache, got %d calls", n)
	}
	body := decode(t, rec)
	debug, ok := body["debug"].(map[string]any)
	if !ok || debug["companyStatus"] != float64(200) || debug["employeesSource"] != "monthly" {
		t.Errorf("unexpected debug details %v", body["debug"])
	}
}

func TestLookup_Errors(t *testing.T) {
	tests := []struct {
		name       string
		fake       *fakeCVRDev
		target     string
		wantStatus int
		wantError  string
	}{
		{"invalid cvr", &fakeCVRDev{}, "/cvr?cvr=123", http.StatusBadRequest, "Invalid CVR. Must be 8 digits."},
		{"upstream status", &fakeCVRDev{companyStatus: http.StatusUnauthorized, companyBody: "denied"}, "/cvr?cvr=12345678", http.StatusUnauthorized, "Company lookup failed (401)"},
		{"invalid json", &fakeCVRDev{companyBody: "<html>"}, "/cvr?cvr=12345678", http.StatusBadGateway, "Upstream returned invalid JSON."},
		{"empty list", &fakeCVRDev{companyBody: "[]"}, "/cvr?cvr=12345678", http.StatusNotFound, "Company not found."},
		{"object body", &fakeCVRDev{companyBody: `{"message":"x"}`}, "/cvr?cvr=12345678", http.StatusNotFound, "Company not found."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, tt.fake)
			rec := get(h, tt.target, testOrigin)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if body := decode(t, rec); body["error"] != tt.wantError {
				t.Errorf("expected %q, got %v", tt.wantError, body["error"])
			}
		})
	}
}

func TestLookup_DebugSample(t *testing.T) {
	f := &fakeCVRDev{companyStatus: http.StatusInternalServerError, companyBody: strings.Repeat("x", 1000)}
	h := newTestHandler(t, f)

	body := decode(t, get(h, "/cvr?cvr=12345678&debug=1", testOrigin))
	if s, _ := body["companySample"].(string); len(s) != 800 {
		t.Errorf("expected 800 byte sample, got %d", len(s))
	}
}

func TestRouting(t *testing.T) {
	h := newTestHandler(t, &fakeCVRDev{})

	if rec := get(h, "/cvr?cvr=12345678", "https://evil.example"); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for foreign origin, got %d", rec.Code)
	}
	if rec := get(h, "/cvr?cvr=12345678", ""); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without origin, got %d", rec.Code)
	}
	if rec := get(h, "/other", testOrigin); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodOptions, "/cvr", nil)
	req.Header.Set("Origin", testOrigin)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 preflight, got %d", rec.Code)
	}
}

func TestLookup_CircuitOpens(t *testing.T) {
	f := &fakeCVRDev{companyStatus: http.StatusBadGateway, companyBody: "down"}
	srv := f.server(t)

	h := NewHandler(Config{
		APIBase: srv.URL,
		Retry:   &retry.Config{MaxRetries: 0},
		Breaker: core.NewCircuitBreaker(&core.CircuitBreakerConfig{
			Name:         "cvr.dev",
			MaxErrors:    2,
			ResetTimeout: time.Hour,
		}),
	})

	first := get(h, "/cvr?cvr=12345678", testOrigin)
	if first.Code != http.StatusBadGateway {
		t.Errorf("expected 5xx answer relayed, got %d", first.Code)
	}
	if body := decode(t, first); body["error"] != "Company lookup failed (502)" {
		t.Errorf("unexpected error %v", body["error"])
	}
	get(h, "/cvr?cvr=12345678", testOrigin)

	rec := get(h, "/cvr?cvr=12345678", testOrigin)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if body := decode(t, rec); body["error"] != "Upstream unavailable" {
		t.Errorf("unexpected error %v", body["error"])
	}
	if n := f.companyCalls.Load(); n != 2 {
		t.Errorf("expected open circuit to skip upstream, got %d calls", n)
	}
	if h.Breaker().State() != core.CircuitOpen {
		t.Errorf("expected open breaker, got %s", h.Breaker().State())
	}
}

func TestLookup_ClientErrorsKeepCircuitClosed(t *testing.T) {
	f := &fakeCVRDev{companyStatus: http.StatusUnauthorized, companyBody: "denied"}
	h := NewHandler(Config{
		APIBase: f.server(t).URL,
		Retry:   &retry.Config{MaxRetries: 0},
		Breaker: core.NewCircuitBreaker(&core.CircuitBreakerConfig{Name: "cvr.dev", MaxErrors: 1, ResetTimeout: time.Hour}),
	})

	for i := 0; i < 3; i++ {
		if rec := get(h, "/cvr?cvr=12345678", testOrigin); rec.Code != http.StatusUnauthorized {
			t.Fatalf("request %d: expected 401, got %d", i, rec.Code)
		}
	}
	if h.Breaker().State() != core.CircuitClosed {
		t.Errorf("expected closed breaker, got %s", h.Breaker().State())
	}
}

func TestLookup_UnreachableUpstream(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	h := NewHandler(Config{APIBase: srv.URL, Retry: &retry.Config{MaxRetries: 0}})
	rec := get(h, "/cvr?cvr=12345678", testOrigin)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}
