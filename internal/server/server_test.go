package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routegate/routegate/internal/config"
	"github.com/routegate/routegate/internal/middleware"
	"github.com/routegate/routegate/internal/observability"
	"github.com/routegate/routegate/internal/registry"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Docs.Enabled = true
	cfg.Docs.Title = "Test API"
	cfg.Docs.Version = "1.0"
	return cfg
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Load(registry.ModuleMap{
		"/users/[id]": {GET: &registry.Operation{
			Handler: func(w http.ResponseWriter, _ *registry.Request) error {
				w.WriteHeader(http.StatusOK)
				return nil
			},
		}},
	}))
	return reg
}

func TestServer_HandlerChain(t *testing.T) {
	t.Parallel()

	dispatcher := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("dispatched"))
	})

	s := New(config.Default().Server, dispatcher)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dispatched", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader),
		"middleware chain must run around the dispatcher")
}

func TestAdmin_Liveness(t *testing.T) {
	t.Parallel()

	a := NewAdmin(testConfig(), testRegistry(t), nil)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestAdmin_Readiness(t *testing.T) {
	t.Parallel()

	a := NewAdmin(testConfig(), testRegistry(t), nil)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	a.SetReady(true)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdmin_Metrics(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics("routegate_test_admin")
	a := NewAdmin(testConfig(), testRegistry(t), metrics)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdmin_DocsEndpoints(t *testing.T) {
	t.Parallel()

	a := NewAdmin(testConfig(), testRegistry(t), nil)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/openapi.json", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/users/{id}")
	assert.Contains(t, rec.Body.String(), "Test API")

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/openapi.yaml", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "openapi: 3.0.3")
}

func TestAdmin_DocsDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Docs.Enabled = false
	a := NewAdmin(cfg, testRegistry(t), nil)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/openapi.json", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
