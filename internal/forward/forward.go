// Package forward executes outbound HTTP calls on behalf of matched
// proxy rules: interception hooks, header rewriting, per-attempt
// timeouts and bounded retry with exponential backoff.
package forward

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/routegate/routegate/internal/observability"
	"github.com/routegate/routegate/internal/retry"
	"github.com/routegate/routegate/internal/rules"
	"github.com/routegate/routegate/internal/util"
)

// hopHeaders are headers that should not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// bodyMethods are methods whose request body is carried upstream.
var bodyMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

// attempt outcome labels for metrics.
const (
	outcomeSuccess  = "success"
	outcomeError    = "error"
	outcomeRejected = "rejected"
)

// Forwarder executes forwarding rules. The underlying HTTP client is
// shared across requests and safe for concurrent use; per-attempt
// deadlines come from request contexts, not the client.
type Forwarder struct {
	client   *http.Client
	logger   observability.Logger
	metrics  *observability.Metrics
	breakers *breakerRegistry
	backoff  time.Duration
}

// Option is a functional option for configuring the forwarder.
type Option func(*Forwarder)

// WithLogger sets the logger for the forwarder.
func WithLogger(logger observability.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithClient sets the outbound HTTP client.
func WithClient(client *http.Client) Option {
	return func(f *Forwarder) {
		f.client = client
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.Metrics) Option {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

// WithRetryBackoff overrides the initial retry backoff. The default is
// one second, doubling per retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(f *Forwarder) {
		f.backoff = d
	}
}

// New creates a forwarder.
func New(opts ...Option) *Forwarder {
	f := &Forwarder{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			// Redirects are passed through to the client untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  observability.NopLogger(),
		backoff: time.Second,
	}

	for _, opt := range opts {
		opt(f)
	}

	f.breakers = newBreakerRegistry(f.logger, f.metrics)
	return f
}

// override holds the per-request adjustments produced by an
// interception hook. The matched rule itself is never mutated.
type override struct {
	target  *url.URL
	headers map[string]string
}

// Forward resolves the final response for a matched rule and writes it
// to w. All failure modes terminate in an HTTP response; nothing
// propagates to the caller.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, m *rules.Match) {
	rule := m.Rule
	ctx := r.Context()

	ov, done := f.runHook(ctx, w, r, m)
	if done {
		return
	}

	target := rule.Target
	if ov.target != nil {
		target = ov.target
	}
	if target == nil {
		// Configuration errors are never silenceable by the rule's
		// logging flag.
		f.logger.Error("proxy rule resolved no target",
			observability.String("rule", rule.Name),
			observability.String("path", r.URL.Path),
			observability.Error(ErrNoTarget),
		)
		util.WriteJSONError(w, http.StatusInternalServerError,
			"Internal Server Error", "proxy rule resolved no upstream target")
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		f.logger.Error("failed to read request body",
			observability.String("rule", rule.Name),
			observability.Error(err),
		)
		util.WriteJSONError(w, http.StatusBadRequest,
			"Bad Request", "failed to read request body")
		return
	}

	resp, err := f.attemptWithRetry(ctx, r, rule, target, ov, body)
	if err != nil {
		f.writeFailure(w, rule, target, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if rule.Logging {
		f.logger.Info("forwarded request",
			observability.String("rule", rule.Name),
			observability.String("method", r.Method),
			observability.String("path", r.URL.Path),
			observability.String("target", target.String()),
			observability.Int("status", resp.StatusCode),
		)
	}

	copyResponse(w, resp)
}

// runHook invokes the rule's interception hook, if any. It returns the
// per-request override and whether a final response was already
// written.
func (f *Forwarder) runHook(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	m *rules.Match,
) (*override, bool) {
	rule := m.Rule
	if rule.Hook == nil {
		return &override{}, false
	}

	result, err := rule.Hook(ctx, &rules.HookRequest{
		Request: r,
		Params:  m.Params,
		Target:  rule.Target,
	})
	if err != nil {
		f.logger.Error("interception hook failed",
			observability.String("rule", rule.Name),
			observability.String("path", r.URL.Path),
			observability.Error(err),
		)
		util.WriteJSONError(w, http.StatusInternalServerError,
			"Internal Server Error", "interception hook failed")
		return nil, true
	}
	if result == nil {
		return &override{}, false
	}

	if !result.Proceed {
		if result.Response == nil {
			f.logger.Error("interception hook declined without response",
				observability.String("rule", rule.Name),
				observability.String("path", r.URL.Path),
			)
			util.WriteJSONError(w, http.StatusInternalServerError,
				"Internal Server Error", ErrHookNoResponse.Error())
			return nil, true
		}

		// Hook-supplied responses pass through verbatim.
		f.observeAttempt(rule.Name, outcomeRejected)
		if rule.Logging {
			f.logger.Info("interception hook blocked request",
				observability.String("rule", rule.Name),
				observability.String("path", r.URL.Path),
				observability.Int("status", result.Response.Status),
			)
		}
		writeHookResponse(w, result.Response)
		return nil, true
	}

	return &override{target: result.Target, headers: result.Headers}, false
}

// attemptWithRetry runs the outbound call under the rule's retry
// budget. Transport failures retry with doubling backoff; any HTTP
// response, success or not, ends the loop. A breaker-open rejection is
// not retried.
func (f *Forwarder) attemptWithRetry(
	ctx context.Context,
	r *http.Request,
	rule *rules.Rule,
	target *url.URL,
	ov *override,
	body []byte,
) (*http.Response, error) {
	var resp *http.Response
	attempt := 0

	cfg := &retry.Config{
		MaxRetries:     rule.Retries,
		InitialBackoff: f.backoff,
	}

	doAttempt := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, rule.Timeout)
		defer cancel()

		out, err := f.buildOutbound(attemptCtx, r, rule, target, ov, body)
		if err != nil {
			return err
		}

		res, err := f.execute(rule, out)
		if err != nil {
			f.observeAttempt(rule.Name, outcomeError)
			if rule.Logging {
				f.logger.Warn("forward attempt failed",
					observability.String("rule", rule.Name),
					observability.String("target", target.String()),
					observability.Int("attempt", attempt),
					observability.Error(err),
				)
			}
			return err
		}

		f.observeAttempt(rule.Name, outcomeSuccess)
		resp = res
		return nil
	}

	err := retry.Do(ctx, cfg, doAttempt, &retry.Options{
		ShouldRetry: isRetryable,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			if f.metrics != nil {
				f.metrics.ObserveForwardRetry(rule.Name)
			}
			if rule.Logging {
				f.logger.Info("retrying forward",
					observability.String("rule", rule.Name),
					observability.Int("attempt", attempt),
					observability.Duration("backoff", backoff),
					observability.Error(err),
				)
			}
		},
	})
	if err != nil {
		if isRetryable(err) {
			// Budget spent on transport failures.
			return nil, newError("exhausted", rule.Name, target.Host, ErrExhausted.Error(), err)
		}
		return nil, err
	}
	return resp, nil
}

// execute performs one outbound call, routed through the rule's
// circuit breaker when one is configured.
func (f *Forwarder) execute(rule *rules.Rule, out *http.Request) (*http.Response, error) {
	if !rule.Breaker.Enabled {
		resp, err := f.client.Do(out)
		if err != nil {
			return nil, newError("transport", rule.Name, out.URL.Host, "request failed", err)
		}
		return resp, nil
	}

	cb := f.breakers.get(rule)
	res, err := cb.Execute(func() (interface{}, error) {
		return f.client.Do(out)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, newError("breaker", rule.Name, out.URL.Host, "circuit breaker open", util.ErrCircuitOpen)
		}
		return nil, newError("transport", rule.Name, out.URL.Host, "request failed", err)
	}
	return res.(*http.Response), nil
}

// buildOutbound constructs the upstream request: original path and
// query against the target's scheme and host, inbound headers minus
// Host and hop-by-hop, rule headers then hook headers on top.
func (f *Forwarder) buildOutbound(
	ctx context.Context,
	r *http.Request,
	rule *rules.Rule,
	target *url.URL,
	ov *override,
	body []byte,
) (*http.Request, error) {
	outURL := &url.URL{
		Scheme:   target.Scheme,
		Host:     target.Host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	out, err := http.NewRequestWithContext(ctx, r.Method, outURL.String(), reader)
	if err != nil {
		return nil, newError("build", rule.Name, target.Host, "failed to build outbound request", err)
	}

	for k, vals := range r.Header {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vals {
			out.Header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	for k, v := range rule.Headers {
		out.Header.Set(k, v)
	}
	for k, v := range ov.headers {
		out.Header.Set(k, v)
	}

	setForwardedHeaders(out, r)
	out.Host = target.Host

	return out, nil
}

// setForwardedHeaders records the original client and host.
func setForwardedHeaders(out, r *http.Request) {
	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		out.Header.Set("X-Forwarded-For", clientIP)
	}

	if r.TLS != nil {
		out.Header.Set("X-Forwarded-Proto", "https")
	} else {
		out.Header.Set("X-Forwarded-Proto", "http")
	}

	out.Header.Set("X-Forwarded-Host", r.Host)
}

// writeFailure maps a terminal forwarding error to its response.
func (f *Forwarder) writeFailure(w http.ResponseWriter, rule *rules.Rule, target *url.URL, err error) {
	f.logger.Error("forward failed",
		observability.String("rule", rule.Name),
		observability.String("target", target.String()),
		observability.Error(err),
	)

	if errors.Is(err, util.ErrCircuitOpen) {
		util.WriteJSONError(w, http.StatusBadGateway,
			"Bad Gateway", "upstream circuit breaker open")
		return
	}
	util.WriteJSONError(w, http.StatusBadGateway,
		"Bad Gateway", "upstream request failed")
}

// isRetryable reports whether a failed attempt may be retried. Only
// transport-level failures qualify, including a per-attempt timeout;
// breaker rejections and inbound cancellation end the loop.
func isRetryable(err error) bool {
	if errors.Is(err, util.ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Op == "transport"
	}
	return false
}

// bufferBody reads the inbound body for methods that carry one, so
// retries can replay it.
func bufferBody(r *http.Request) ([]byte, error) {
	if !bodyMethods[r.Method] || r.Body == nil {
		return nil, nil
	}
	defer func() { _ = r.Body.Close() }()
	return io.ReadAll(r.Body)
}

// writeHookResponse writes a hook-supplied response verbatim.
func writeHookResponse(w http.ResponseWriter, hr *rules.HookResponse) {
	for k, v := range hr.Headers {
		w.Header().Set(k, v)
	}
	status := hr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(hr.Body) > 0 {
		_, _ = w.Write(hr.Body)
	}
}

// copyResponse relays the upstream response, status and body included,
// minus hop-by-hop headers. Non-2xx statuses pass through untouched.
func copyResponse(w http.ResponseWriter, resp *http.Response) {
	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		w.Header().Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (f *Forwarder) observeAttempt(rule, outcome string) {
	if f.metrics != nil {
		f.metrics.ObserveForwardAttempt(rule, outcome)
	}
}
