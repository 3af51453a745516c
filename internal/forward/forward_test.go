package forward

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routegate/routegate/internal/config"
	"github.com/routegate/routegate/internal/rules"
	"github.com/routegate/routegate/internal/util"
)

// countingTransport counts round trips and always fails.
type countingTransport struct {
	calls atomic.Int64
}

func (t *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	t.calls.Add(1)
	return nil, errors.New("connection refused")
}

func mustRule(t *testing.T, cfg config.RuleConfig, hook rules.Hook) *rules.Rule {
	t.Helper()
	r, err := rules.NewRule(cfg, hook)
	require.NoError(t, err)
	return r
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) util.ErrorBody {
	t.Helper()
	var body util.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestForward_Success(t *testing.T) {
	t.Parallel()

	var gotHost, gotXFHost, gotXFProto string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotXFHost = r.Header.Get("X-Forwarded-Host")
		gotXFProto = r.Header.Get("X-Forwarded-Proto")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	rule := mustRule(t, config.RuleConfig{
		Name:    "api",
		Pattern: "/api/**",
		Target:  upstream.URL,
	}, nil)

	f := New()
	req := httptest.NewRequest(http.MethodGet, "http://gateway.local/api/users?page=2", nil)
	req.RemoteAddr = "10.1.2.3:4567"
	rec := httptest.NewRecorder()

	f.Forward(rec, req, &rules.Match{Rule: rule})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Upstream"))

	target, _ := url.Parse(upstream.URL)
	assert.Equal(t, target.Host, gotHost)
	assert.Equal(t, "gateway.local", gotXFHost)
	assert.Equal(t, "http", gotXFProto)
}

func TestForward_PreservesPathAndQuery(t *testing.T) {
	t.Parallel()

	var gotPath, gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	rule := mustRule(t, config.RuleConfig{
		Name:    "api",
		Pattern: "/api/**",
		Target:  upstream.URL,
	}, nil)

	f := New()
	req := httptest.NewRequest(http.MethodGet, "/api/users/42?expand=roles&page=1", nil)
	rec := httptest.NewRecorder()

	f.Forward(rec, req, &rules.Match{Rule: rule})

	assert.Equal(t, "/api/users/42", gotPath)
	assert.Equal(t, "expand=roles&page=1", gotQuery)
}

func TestForward_RetryExhausted(t *testing.T) {
	t.Parallel()

	transport := &countingTransport{}
	rule := mustRule(t, config.RuleConfig{
		Name:    "flaky",
		Pattern: "/flaky/**",
		Target:  "http://unreachable.invalid",
		Retries: 2,
	}, nil)

	f := New(
		WithClient(&http.Client{Transport: transport}),
		WithRetryBackoff(time.Millisecond),
	)
	req := httptest.NewRequest(http.MethodGet, "/flaky/thing", nil)
	rec := httptest.NewRecorder()

	f.Forward(rec, req, &rules.Match{Rule: rule})

	assert.Equal(t, int64(3), transport.calls.Load(), "1 initial + 2 retries")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	body := decodeErrorBody(t, rec)
	assert.Equal(t, "Bad Gateway", body.Error)
	assert.Equal(t, http.StatusBadGateway, body.Status)
}

func TestForward_Upstream500NotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream broke"))
	}))
	defer upstream.Close()

	rule := mustRule(t, config.RuleConfig{
		Name:    "api",
		Pattern: "/api/**",
		Target:  upstream.URL,
		Retries: 5,
	}, nil)

	f := New(WithRetryBackoff(time.Millisecond))
	req := httptest.NewRequest(http.MethodGet, "/api/boom", nil)
	rec := httptest.NewRecorder()

	f.Forward(rec, req, &rules.Match{Rule: rule})

	assert.Equal(t, int64(1), calls.Load(), "application errors are not retried")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "upstream broke", rec.Body.String())
}

func TestForward_HookBlocksWithoutOutboundCall(t *testing.T) {
	t.Parallel()

	transport := &countingTransport{}
	hook := func(_ context.Context, _ *rules.HookRequest) (*rules.HookResult, error) {
		return &rules.HookResult{
			Proceed: false,
			Response: &rules.HookResponse{
				Status:  http.StatusUnauthorized,
				Headers: map[string]string{"WWW-Authenticate": "Bearer"},
				Body:    []byte(`{"error":"unauthorized"}`),
			},
		}, nil
	}

	rule := mustRule(t, config.RuleConfig{
		Name:    "guarded",
		Pattern: "/guarded/**",
		Target:  "http://unreachable.invalid",
	}, hook)

	f := New(WithClient(&http.Client{Transport: transport}))
	req := httptest.NewRequest(http.MethodGet, "/guarded/secrets", nil)
	rec := httptest.NewRecorder()

	f.Forward(rec, req, &rules.Match{Rule: rule})

	assert.Equal(t, int64(0), transport.calls.Load(), "blocked hook must not reach the network")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, `{"error":"unauthorized"}`, rec.Body.String())
}

func TestForward_HookOverridesTargetAndHeaders(t *testing.T) {
	t.Parallel()

	var gotRule, gotHook string
	replacement := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRule = r.Header.Get("X-Rule-Header")
		gotHook = r.Header.Get("X-Shared")
		w.WriteHeader(http.StatusOK)
	}))
	defer replacement.Close()

	replacementURL, err := url.Parse(replacement.URL)
	require.NoError(t, err)

	hook := func(_ context.Context, _ *rules.HookRequest) (*rules.HookResult, error) {
		return &rules.HookResult{
			Proceed: true,
			Target:  replacementURL,
			Headers: map[string]string{"X-Shared": "from-hook"},
		}, nil
	}

	rule := mustRule(t, config.RuleConfig{
		Name:    "redirected",
		Pattern: "/redirected/**",
		Target:  "http://unreachable.invalid",
		Headers: map[string]string{
			"X-Rule-Header": "from-rule",
			"X-Shared":      "from-rule",
		},
	}, hook)

	f := New()
	req := httptest.NewRequest(http.MethodGet, "/redirected/x", nil)
	rec := httptest.NewRecorder()

	f.Forward(rec, req, &rules.Match{Rule: rule})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from-rule", gotRule)
	assert.Equal(t, "from-hook", gotHook, "hook headers take precedence")
}

func TestForward_HookOverrideDoesNotMutateRule(t *testing.T) {
	t.Parallel()

	replacement := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer replacement.Close()

	replacementURL, err := url.Parse(replacement.URL)
	require.NoError(t, err)

	hook := func(_ context.Context, _ *rules.HookRequest) (*rules.HookResult, error) {
		return &rules.HookResult{
			Proceed: true,
			Target:  replacementURL,
			Headers: map[string]string{"X-Extra": "v"},
		}, nil
	}

	rule := mustRule(t, config.RuleConfig{
		Name:    "stable",
		Pattern: "/stable/**",
		Target:  "http://original.invalid",
		Headers: map[string]string{"X-Rule-Header": "v"},
	}, hook)

	f := New()
	rec := httptest.NewRecorder()
	f.Forward(rec, httptest.NewRequest(http.MethodGet, "/stable/a", nil), &rules.Match{Rule: rule})

	assert.Equal(t, "http://original.invalid", rule.Target.String())
	assert.Equal(t, map[string]string{"X-Rule-Header": "v"}, rule.Headers)
}

func TestForward_NoTarget(t *testing.T) {
	t.Parallel()

	rule := mustRule(t, config.RuleConfig{
		Name:    "void",
		Pattern: "/void/**",
	}, nil)

	f := New()
	rec := httptest.NewRecorder()
	f.Forward(rec, httptest.NewRequest(http.MethodGet, "/void/a", nil), &rules.Match{Rule: rule})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeErrorBody(t, rec)
	assert.Equal(t, "Internal Server Error", body.Error)
	assert.Equal(t, http.StatusInternalServerError, body.Status)
}

func TestForward_HookDeclinesWithoutResponse(t *testing.T) {
	t.Parallel()

	transport := &countingTransport{}
	hook := func(_ context.Context, _ *rules.HookRequest) (*rules.HookResult, error) {
		return &rules.HookResult{Proceed: false}, nil
	}

	rule := mustRule(t, config.RuleConfig{
		Name:    "broken",
		Pattern: "/broken/**",
		Target:  "http://unreachable.invalid",
	}, hook)

	f := New(WithClient(&http.Client{Transport: transport}))
	rec := httptest.NewRecorder()
	f.Forward(rec, httptest.NewRequest(http.MethodGet, "/broken/a", nil), &rules.Match{Rule: rule})

	assert.Equal(t, int64(0), transport.calls.Load())
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestForward_HookError(t *testing.T) {
	t.Parallel()

	hook := func(_ context.Context, _ *rules.HookRequest) (*rules.HookResult, error) {
		return nil, errors.New("hook exploded")
	}

	rule := mustRule(t, config.RuleConfig{
		Name:    "errhook",
		Pattern: "/errhook/**",
		Target:  "http://unreachable.invalid",
	}, hook)

	f := New()
	rec := httptest.NewRecorder()
	f.Forward(rec, httptest.NewRequest(http.MethodGet, "/errhook/a", nil), &rules.Match{Rule: rule})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestForward_BodyOnlyForMutatingMethods(t *testing.T) {
	t.Parallel()

	tests := []struct {
		method   string
		wantBody string
	}{
		{http.MethodPost, "payload"},
		{http.MethodPut, "payload"},
		{http.MethodPatch, "payload"},
		{http.MethodDelete, ""},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			t.Parallel()

			var got string
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				got = string(b)
				w.WriteHeader(http.StatusOK)
			}))
			defer upstream.Close()

			rule := mustRule(t, config.RuleConfig{
				Name:    "body",
				Pattern: "/body/**",
				Target:  upstream.URL,
			}, nil)

			f := New()
			req := httptest.NewRequest(tt.method, "/body/x", strings.NewReader("payload"))
			rec := httptest.NewRecorder()

			f.Forward(rec, req, &rules.Match{Rule: rule})

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantBody, got)
		})
	}
}

func TestForward_StripsHopHeaders(t *testing.T) {
	t.Parallel()

	var gotConnection, gotKeepAlive string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConnection = r.Header.Get("Proxy-Connection")
		gotKeepAlive = r.Header.Get("Keep-Alive")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	rule := mustRule(t, config.RuleConfig{
		Name:    "hop",
		Pattern: "/hop/**",
		Target:  upstream.URL,
	}, nil)

	f := New()
	req := httptest.NewRequest(http.MethodGet, "/hop/x", nil)
	req.Header.Set("Proxy-Connection", "keep-alive")
	req.Header.Set("Keep-Alive", "timeout=5")
	rec := httptest.NewRecorder()

	f.Forward(rec, req, &rules.Match{Rule: rule})

	assert.Empty(t, gotConnection)
	assert.Empty(t, gotKeepAlive)
}

func TestForward_BreakerOpensAfterFailures(t *testing.T) {
	t.Parallel()

	transport := &countingTransport{}
	rule := mustRule(t, config.RuleConfig{
		Name:    "fragile",
		Pattern: "/fragile/**",
		Target:  "http://unreachable.invalid",
		Breaker: config.BreakerConfig{
			Enabled:   true,
			Threshold: 1,
			Timeout:   config.Duration(time.Minute),
		},
	}, nil)

	f := New(
		WithClient(&http.Client{Transport: transport}),
		WithRetryBackoff(time.Millisecond),
	)

	rec := httptest.NewRecorder()
	f.Forward(rec, httptest.NewRequest(http.MethodGet, "/fragile/a", nil), &rules.Match{Rule: rule})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, int64(1), transport.calls.Load())

	rec = httptest.NewRecorder()
	f.Forward(rec, httptest.NewRequest(http.MethodGet, "/fragile/b", nil), &rules.Match{Rule: rule})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, int64(1), transport.calls.Load(), "open breaker must short-circuit")

	body := decodeErrorBody(t, rec)
	assert.Contains(t, body.Message, "circuit breaker")
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, isRetryable(newError("transport", "r", "h", "boom", errors.New("refused"))))
	assert.False(t, isRetryable(newError("breaker", "r", "h", "open", util.ErrCircuitOpen)))
	assert.False(t, isRetryable(context.Canceled))
	assert.False(t, isRetryable(errors.New("unrelated")))
}
