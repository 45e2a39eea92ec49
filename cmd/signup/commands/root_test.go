package commands

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Anvisninger/signup-flow/internal/config"
	"github.com/Anvisninger/signup-flow/pkg/health"
	"github.com/Anvisninger/signup-flow/pkg/logging"
	"github.com/Anvisninger/signup-flow/pkg/shutdown"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"serve", "cvr-proxy", "plan-proxy"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("expected %s subcommand, got %v (%v)", name, cmd, err)
			continue
		}
		if cmd.Flags().Lookup("addr") == nil {
			t.Errorf("expected --addr on %s", name)
		}
	}
	if root.PersistentFlags().Lookup("env-file") == nil {
		t.Error("expected --env-file flag")
	}
}

func TestCVRProxyRequiresKey(t *testing.T) {
	t.Setenv("CVR_DEV_API_KEY", "")

	root := newRootCmd()
	root.SetArgs([]string{"cvr-proxy", "--env-file", t.TempDir() + "/missing.env"})
	root.SilenceErrors = true

	if err := root.Execute(); err == nil {
		t.Error("expected missing key error")
	}
}

func TestProxyHandler(t *testing.T) {
	sd := shutdown.NewHandler(nil)
	checker := health.NewChecker("test")

	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := proxyHandler(upstream, checker, config.RateLimit{Rate: 1, Burst: 1}, sd, logging.NopLogger{})
	defer sd.Shutdown()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected healthz 200, got %d", rec.Code)
	}

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/cvr", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusTeapot || codes[1] != http.StatusTooManyRequests {
		t.Errorf("expected [418 429], got %v", codes)
	}
}

func TestNewBreaker(t *testing.T) {
	cb := newBreaker("cvr.dev", logging.NopLogger{})
	if cb.Name() != "cvr.dev" {
		t.Errorf("expected cvr.dev, got %q", cb.Name())
	}
}
