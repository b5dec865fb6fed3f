package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MATCH_QTY_TOLERANCE_PCT", "2.5")
	t.Setenv("WORKER_CONCURRENCY", "8")

	cfg, err := LoadConfig("testdata/does-not-exist.env")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 8, cfg.WorkerConcurrency)
	require.True(t, cfg.MatchTolerance().QtyPercent.Equal(decimal.RequireFromString("2.5")))
	require.True(t, cfg.MatchTolerance().PricePercent.IsZero())
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsNegativeTolerance(t *testing.T) {
	t.Setenv("MATCH_PRICE_TOLERANCE_PCT", "-1")
	_, err := LoadConfig("testdata/does-not-exist.env")
	require.ErrorContains(t, err, "tolerances")
}

func TestNewLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"msg":"shown"`)
	require.Contains(t, out, `"k":"v"`)
}

type mountFunc func(r chi.Router)

func (f mountFunc) MountRoutes(r chi.Router) { f(r) }

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

func newTestRouter(db Pinger) http.Handler {
	return NewRouter(RouterParams{
		Logger:  slog.Default(),
		Config:  &Config{AppEnv: "test"},
		Metrics: observability.NewMetrics(),
		DB:      db,
		PostingHandler: mountFunc(func(r chi.Router) {
			r.Get("/events/ping", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
		}),
	})
}

func TestRouterHealthChecksAndMounts(t *testing.T) {
	h := newTestRouter(pinger{})

	for path, want := range map[string]int{
		"/healthz":            http.StatusOK,
		"/readyz":             http.StatusOK,
		"/api/v1/events/ping": http.StatusTeapot,
		"/events/ping":        http.StatusNotFound,
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, want, rr.Code, path)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
}

func TestRouterExposesMetrics(t *testing.T) {
	h := newTestRouter(nil)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), "odyssey_gl_http_requests_total"))
}

func TestReadinessFailsWithoutDatabase(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(pinger{err: errors.New("down")}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
