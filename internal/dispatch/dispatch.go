// Package dispatch resolves each inbound request to exactly one
// outcome: a proxy forward, a route handler invocation, or an error
// response.
//
// The resolution order is fixed: the proxy rule set is consulted
// before the route registry, and a proxy match is final even when the
// forward fails. Route handlers run with panic recovery; no per-request
// failure escapes the dispatcher.
package dispatch

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/routegate/routegate/internal/forward"
	"github.com/routegate/routegate/internal/observability"
	"github.com/routegate/routegate/internal/registry"
	"github.com/routegate/routegate/internal/rules"
	"github.com/routegate/routegate/internal/util"
)

// maxBodyBytes bounds how much of a request body is decoded as JSON.
const maxBodyBytes = 10 << 20 // 10 MiB

// Dispatcher is the data-plane http.Handler.
type Dispatcher struct {
	registry  *registry.Registry
	ruleSet   *rules.Set
	forwarder *forward.Forwarder
	logger    observability.Logger
	metrics   *observability.Metrics

	// proxyEnabled gates the proxy check globally; toggled on config
	// reload without restarting the listener.
	proxyEnabled atomic.Bool
}

// Option is a functional option for configuring the dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger for the dispatcher.
func WithLogger(logger observability.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithProxyEnabled sets the initial state of the global proxy gate.
func WithProxyEnabled(enabled bool) Option {
	return func(d *Dispatcher) {
		d.proxyEnabled.Store(enabled)
	}
}

// New creates a dispatcher over a route registry, a rule set and a
// forwarder.
func New(reg *registry.Registry, set *rules.Set, fwd *forward.Forwarder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:  reg,
		ruleSet:   set,
		forwarder: fwd,
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// SetProxyEnabled toggles the global proxy gate.
func (d *Dispatcher) SetProxyEnabled(enabled bool) {
	d.proxyEnabled.Store(enabled)
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := util.ContextWithStartTime(r.Context(), start)
	r = r.WithContext(ctx)

	if d.metrics != nil {
		d.metrics.RequestStarted()
		defer d.metrics.RequestFinished()
	}

	rw := util.NewStatusCapturingResponseWriter(w)
	route := d.dispatch(rw, r)

	if d.metrics != nil {
		d.metrics.ObserveRequest(
			r.Method, route, strconv.Itoa(rw.StatusCode),
			time.Since(start).Seconds(),
		)
	}
}

// dispatch resolves the request and returns the route label used for
// metrics: the matched rule pattern, the matched route template, or
// empty for a miss.
func (d *Dispatcher) dispatch(w *util.StatusCapturingResponseWriter, r *http.Request) string {
	path := r.URL.Path

	// Proxy check strictly precedes route lookup. A rule match is
	// final: the forwarder's result is the response, with no route
	// fallthrough even when the forward fails.
	if d.proxyEnabled.Load() {
		if match, ok := d.ruleSet.FindMatch(path); ok {
			ctx := util.ContextWithRoute(r.Context(), match.Rule.Pattern)
			if len(match.Params) > 0 {
				ctx = util.ContextWithPathParams(ctx, match.Params)
			}
			d.forwarder.Forward(w, r.WithContext(ctx), match)
			return match.Rule.Pattern
		}
	}

	result, ok := d.registry.Lookup(path)
	if !ok {
		util.WriteJSONError(w, http.StatusNotFound,
			"Not Found", "no route registered for "+path)
		// Empty label; the metrics layer substitutes its unmatched
		// placeholder to keep cardinality bounded.
		return ""
	}

	entry := result.Entry
	op := entry.Operation(r.Method)
	if op == nil {
		w.Header().Set("Allow", strings.Join(entry.Methods(), ", "))
		util.WriteJSONError(w, http.StatusMethodNotAllowed,
			"Method Not Allowed", r.Method+" not supported for "+entry.Template())
		return entry.Template()
	}

	ctx := util.ContextWithRoute(r.Context(), entry.Template())
	if len(result.Params) > 0 {
		ctx = util.ContextWithPathParams(ctx, result.Params)
	}
	r = r.WithContext(ctx)

	d.invoke(w, r, entry, op, result.Params)
	return entry.Template()
}

// invoke runs a route handler with panic recovery. Handler errors and
// panics both resolve to a 500 response.
func (d *Dispatcher) invoke(
	w http.ResponseWriter,
	r *http.Request,
	entry *registry.RouteEntry,
	op *registry.Operation,
	params map[string]string,
) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("handler panic recovered",
				observability.String("route", entry.Template()),
				observability.String("method", r.Method),
				observability.Any("panic", rec),
				observability.String("stack", string(debug.Stack())),
			)
			util.WriteJSONError(w, http.StatusInternalServerError,
				"Internal Server Error", "handler panicked")
		}
	}()

	req := &registry.Request{
		Raw:     r,
		Params:  params,
		Query:   r.URL.Query(),
		Headers: r.Header,
		Body:    d.decodeBody(r),
	}

	if err := op.Handler(w, req); err != nil {
		d.logger.Error("handler failed",
			observability.String("route", entry.Template()),
			observability.String("method", r.Method),
			observability.Error(err),
		)
		util.WriteJSONError(w, http.StatusInternalServerError,
			"Internal Server Error", "handler failed")
	}
}

// decodeBody parses the request body as JSON when the request declares
// an application/json content type. A missing body, another content
// type or a parse failure all yield nil; malformed JSON is not fatal,
// the handler decides whether an absent body matters.
func (d *Dispatcher) decodeBody(r *http.Request) map[string]interface{} {
	if r.Body == nil {
		return nil
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || len(data) == 0 {
		return nil
	}

	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		d.logger.Debug("ignoring undecodable JSON body",
			observability.String("path", r.URL.Path),
			observability.Error(err),
		)
		return nil
	}
	return body
}
