package plans

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Anvisninger/signup-flow/pkg/core"
	"github.com/Anvisninger/signup-flow/pkg/retry"
)

const testOrigin = "https://anvisninger.dk"

const familiesJSON = `{"items": [
	{"Name": "Other family", "Plans": []},
	{"Name": "OffentligtUdbud - Prismodel 2026", "Plans": [
		{"Uid": "unbounded", "Name": "Ubegrænset", "AnnualRate": 40000, "MaximumPeople": null},
		{"Uid": "p20", "Name": "Pro 20", "AnnualRate": 9000, "MaximumPeople": 20},
		{"Uid": "p5", "Name": "Pro 5", "AnnualRate": 4500, "MaximumPeople": 5},
		{"Uid": "gone", "Name": "Gammel", "AnnualRate": 1, "MaximumPeople": 1, "IsActive": false}
	]}
]}`

type fakeOutseta struct {
	status      int
	families    string
	people      string
	calls       atomic.Int32
	auth        atomic.Value
	emailQuery  atomic.Value
	expandQuery atomic.Value
}

func (f *fakeOutseta) server(t *testing.T) *httptest.Server {
	t.Helper()
	write := func(w http.ResponseWriter, body string) {
		status := f.status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/billing/planfamilies", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		f.auth.Store(r.Header.Get("Authorization"))
		write(w, f.families)
	})
	mux.HandleFunc("/crm/people", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		f.emailQuery.Store(r.URL.Query().Get("email"))
		f.expandQuery.Store(r.URL.Query().Get("expand"))
		write(w, f.people)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestHandler(t *testing.T, f *fakeOutseta) *Handler {
	t.Helper()
	return NewHandler(Config{
		BaseURL:   f.server(t).URL,
		APIKey:    "key",
		APISecret: "secret",
		Retry:     &retry.Config{MaxRetries: 0},
	})
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Origin", testOrigin)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestPlans_WithoutEmployees(t *testing.T) {
	f := &fakeOutseta{families: familiesJSON}
	h := newTestHandler(t, f)

	rec := get(h, "/plans")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if auth, _ := f.auth.Load().(string); auth != "Outseta key:secret" {
		t.Errorf("unexpected auth header %q", auth)
	}

	body := decode(t, rec)
	if body["planFamilyName"] != DefaultPlanFamilyName {
		t.Errorf("unexpected family %v", body["planFamilyName"])
	}
	plans, _ := body["plans"].([]any)
	if len(plans) != 3 {
		t.Fatalf("expected 3 active plans, got %d", len(plans))
	}
	if first := plans[0].(map[string]any); first["planUid"] != "p5" {
		t.Errorf("expected p5 first, got %v", first["planUid"])
	}
	if last := plans[2].(map[string]any); last["maximumPeople"] != nil {
		t.Errorf("expected unbounded plan last, got %v", last)
	}
	if _, ok := body["plan"]; ok {
		t.Error("expected no selection without employees")
	}
	if _, ok := body["employees"]; ok {
		t.Error("expected no employees echo")
	}
}

func TestPlans_Selection(t *testing.T) {
	h := newTestHandler(t, &fakeOutseta{families: familiesJSON})

	tests := []struct {
		employees string
		want      string
	}{
		{"12", "p20"},
		{"5", "p5"},
		{"999", "unbounded"},
	}
	for _, tt := range tests {
		body := decode(t, get(h, "/plans?employees="+tt.employees))
		selected, _ := body["plan"].(map[string]any)
		if selected["planUid"] != tt.want {
			t.Errorf("employees=%s: expected %s, got %v", tt.employees, tt.want, body["plan"])
		}
		if body["employees"] == nil {
			t.Errorf("employees=%s: expected employees echoed", tt.employees)
		}
	}
}

func TestPlans_Errors(t *testing.T) {
	for _, q := range []string{"employees=", "employees=-1", "employees=abc"} {
		h := newTestHandler(t, &fakeOutseta{families: familiesJSON})
		rec := get(h, "/plans?"+q)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}

	h := NewHandler(Config{
		BaseURL:        (&fakeOutseta{families: familiesJSON}).server(t).URL,
		PlanFamilyName: "Missing",
		Retry:          &retry.Config{MaxRetries: 0},
	})
	rec := get(h, "/plans")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	body := decode(t, rec)
	if body["error"] != "PlanFamily not found: Missing" {
		t.Errorf("unexpected error %v", body["error"])
	}
	if names, _ := body["availablePlanFamilies"].([]any); len(names) != 2 {
		t.Errorf("expected 2 family names, got %v", body["availablePlanFamilies"])
	}

	h = newTestHandler(t, &fakeOutseta{status: http.StatusUnauthorized, families: "bad credentials"})
	rec = get(h, "/plans")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status passthrough, got %d", rec.Code)
	}
	body = decode(t, rec)
	if body["error"] != "Outseta error (401)" || body["details"] != "bad credentials" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestPlans_ErrorDetailsTruncatedByCharacter(t *testing.T) {
	long := strings.Repeat("æ", detailsSize+20)
	h := newTestHandler(t, &fakeOutseta{status: http.StatusBadRequest, families: long})
	rec := get(h, "/plans")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status passthrough, got %d", rec.Code)
	}
	body := decode(t, rec)
	details, _ := body["details"].(string)
	if !utf8.ValidString(details) {
		t.Fatal("expected valid utf-8 details")
	}
	if got := utf8.RuneCountInString(details); got != detailsSize {
		t.Errorf("expected %d characters, got %d", detailsSize, got)
	}
	if details != strings.Repeat("æ", detailsSize) {
		t.Error("expected details to be a prefix of the upstream body")
	}

	if got := truncateRunes("abc", 5); got != "abc" {
		t.Errorf("expected short input untouched, got %q", got)
	}
}

func TestCheckEmail(t *testing.T) {
	tests := []struct {
		name   string
		people string
		exists bool
	}{
		{"no person", `{"items": []}`, false},
		{"person without account", `{"items": [{"Email": "a@b.dk", "PersonAccount": []}]}`, false},
		{"linked account list", `{"items": [{"PersonAccount": [{"Account": {"Uid": "acc1"}}]}]}`, true},
		{"linked account object", `{"items": [{"PersonAccount": {"Account": {"Uid": "acc1"}}}]}`, true},
		{"account uid field", `{"items": [{"AccountUid": "acc2"}]}`, true},
		{"numeric account id", `{"items": [{"account_id": 42}]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeOutseta{people: tt.people}
			h := newTestHandler(t, f)

			rec := get(h, "/check-email?email=%20karen@example.dk%20")
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			body := decode(t, rec)
			if body["exists"] != tt.exists {
				t.Errorf("expected exists=%v, got %v", tt.exists, body["exists"])
			}
			if body["email"] != "karen@example.dk" {
				t.Errorf("expected trimmed email, got %v", body["email"])
			}
			want := MessageEmailAvailable
			if tt.exists {
				want = MessageEmailExists
			}
			if body["message"] != want {
				t.Errorf("expected %q, got %v", want, body["message"])
			}
			if q, _ := f.expandQuery.Load().(string); q != "PersonAccount" {
				t.Errorf("expected PersonAccount expansion, got %q", q)
			}
		})
	}
}

func TestCheckEmail_Missing(t *testing.T) {
	h := newTestHandler(t, &fakeOutseta{})
	rec := get(h, "/check-email?email=%20")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decode(t, rec); body["error"] != "Missing email parameter" {
		t.Errorf("unexpected error %v", body["error"])
	}
}

func TestRouting(t *testing.T) {
	h := newTestHandler(t, &fakeOutseta{})

	if rec := get(h, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/plans", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodOptions, "/plans", nil)
	req.Header.Set("Origin", testOrigin)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Headers") != "Content-Type,Authorization" {
		t.Errorf("unexpected allow headers %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestCircuitBreaker(t *testing.T) {
	f := &fakeOutseta{status: http.StatusInternalServerError, families: "boom"}
	h := NewHandler(Config{
		BaseURL: f.server(t).URL,
		Retry:   &retry.Config{MaxRetries: 0},
		Breaker: core.NewCircuitBreaker(&core.CircuitBreakerConfig{Name: "outseta", MaxErrors: 1, ResetTimeout: time.Hour}),
	})

	if rec := get(h, "/plans"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 passthrough, got %d", rec.Code)
	}
	rec := get(h, "/check-email?email=a@b.dk")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if f.calls.Load() != 1 {
		t.Errorf("expected open circuit to skip upstream, got %d calls", f.calls.Load())
	}
}
