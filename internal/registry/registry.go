// Package registry holds the table of discovered route modules and
// resolves request paths against it.
//
// Entries are built once at startup (or on an explicit reload) and are
// immutable afterwards; reloads swap the whole table atomically so
// in-flight dispatches always observe a consistent snapshot.
package registry

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/routegate/routegate/internal/pattern"
)

// Request carries the extracted inputs handed to a route handler:
// the raw request plus path parameters, query values, headers and the
// decoded JSON body (nil when absent or undecodable).
type Request struct {
	Raw     *http.Request
	Params  map[string]string
	Query   url.Values
	Headers http.Header
	Body    map[string]interface{}
}

// HandlerFunc is a bound route handler. A returned error is converted
// to a 500 response by the dispatcher; it never reaches the transport
// layer.
type HandlerFunc func(w http.ResponseWriter, r *Request) error

// ParamSpec declares one documented parameter of an operation.
type ParamSpec struct {
	Name        string `json:"name" yaml:"name"`
	In          string `json:"in" yaml:"in"` // "path", "query", "header", "body"
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
}

// ResponseSpec documents one response of an operation.
type ResponseSpec struct {
	Description string `json:"description" yaml:"description"`
}

// DocSpec is optional documentation metadata attached to an operation.
// The dispatcher ignores it; only the documentation assembler reads it.
type DocSpec struct {
	Summary     string                  `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string                  `json:"description,omitempty" yaml:"description,omitempty"`
	OperationID string                  `json:"operationId,omitempty" yaml:"operationId,omitempty"`
	Tags        []string                `json:"tags,omitempty" yaml:"tags,omitempty"`
	Responses   map[string]ResponseSpec `json:"responses,omitempty" yaml:"responses,omitempty"`
}

// Operation is a handler descriptor for one HTTP method of a route.
type Operation struct {
	Handler HandlerFunc
	Params  []ParamSpec
	Doc     *DocSpec
}

// Module is the statically typed registration contract of one route
// module: a well-known set of named values, one per HTTP method. Nil
// fields mean the method is not served.
type Module struct {
	GET     *Operation
	POST    *Operation
	PUT     *Operation
	PATCH   *Operation
	DELETE  *Operation
	HEAD    *Operation
	OPTIONS *Operation
}

// methodOrder fixes the enumeration order of module operations.
var methodOrder = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodHead,
	http.MethodOptions,
}

// operations enumerates the module's non-nil operations keyed by method.
func (m Module) operations() map[string]*Operation {
	ops := make(map[string]*Operation)
	for method, op := range map[string]*Operation{
		http.MethodGet:     m.GET,
		http.MethodPost:    m.POST,
		http.MethodPut:     m.PUT,
		http.MethodPatch:   m.PATCH,
		http.MethodDelete:  m.DELETE,
		http.MethodHead:    m.HEAD,
		http.MethodOptions: m.OPTIONS,
	} {
		if op != nil {
			ops[method] = op
		}
	}
	return ops
}

// ModuleMap binds normalized route templates to modules.
type ModuleMap map[string]Module

// RouteEntry identifies one discovered path template and its per-method
// handler descriptors. Immutable after load.
type RouteEntry struct {
	template string
	compiled *pattern.Compiled // nil for templates without dynamic segments
	methods  map[string]*Operation
}

// Template returns the normalized path template.
func (e *RouteEntry) Template() string {
	return e.template
}

// Operation returns the handler descriptor bound for method, or nil.
func (e *RouteEntry) Operation(method string) *Operation {
	return e.methods[method]
}

// Methods returns the bound methods in a fixed order.
func (e *RouteEntry) Methods() []string {
	var out []string
	for _, method := range methodOrder {
		if _, ok := e.methods[method]; ok {
			out = append(out, method)
		}
	}
	return out
}

// LookupResult is the outcome of resolving a request path.
type LookupResult struct {
	Entry  *RouteEntry
	Params map[string]string
}

// table is one immutable registry snapshot.
type table struct {
	byTemplate map[string]*RouteEntry
	// static holds entries without dynamic segments in registration
	// order; used for exact match and the longest-prefix fallback.
	static []*RouteEntry
	// dynamic holds entries with named segments in registration order,
	// which is the directory scan order. That order decides between
	// structurally ambiguous templates, so it must stay deterministic.
	dynamic []*RouteEntry
}

// Registry resolves request paths to route entries.
type Registry struct {
	current atomic.Pointer[table]
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	r.current.Store(&table{byTemplate: make(map[string]*RouteEntry)})
	return r
}

// Builder accumulates registrations before an atomic swap.
type Builder struct {
	tab *table
}

// NewBuilder starts a fresh registry load.
func NewBuilder() *Builder {
	return &Builder{tab: &table{byTemplate: make(map[string]*RouteEntry)}}
}

// Register binds a handler descriptor for one method of a template.
// Registering the same template again merges methods; the same
// template+method pair is last-writer-wins, which is acceptable because
// the scan producing registrations is deterministic per directory tree.
func (b *Builder) Register(template, method string, op *Operation) error {
	if op == nil || op.Handler == nil {
		return fmt.Errorf("register %s %s: nil handler", method, template)
	}
	method = strings.ToUpper(method)

	entry, exists := b.tab.byTemplate[template]
	if !exists {
		entry = &RouteEntry{
			template: template,
			methods:  make(map[string]*Operation),
		}
		if pattern.HasTemplateParams(template) {
			compiled, err := pattern.CompileTemplate(template)
			if err != nil {
				return err
			}
			entry.compiled = compiled
			b.tab.dynamic = append(b.tab.dynamic, entry)
		} else {
			if _, err := pattern.CompileTemplate(template); err != nil {
				return err
			}
			b.tab.static = append(b.tab.static, entry)
		}
		b.tab.byTemplate[template] = entry
	}

	entry.methods[method] = op
	return nil
}

// RegisterModule binds all operations of a module under a template.
func (b *Builder) RegisterModule(template string, mod Module) error {
	ops := mod.operations()
	if len(ops) == 0 {
		return fmt.Errorf("register %s: module declares no operations", template)
	}
	for _, method := range methodOrder {
		op, ok := ops[method]
		if !ok {
			continue
		}
		if err := b.Register(template, method, op); err != nil {
			return err
		}
	}
	return nil
}

// Load builds a table from a module map in lexicographic template
// order and swaps it into the registry atomically.
func (r *Registry) Load(mods ModuleMap) error {
	b := NewBuilder()

	templates := make([]string, 0, len(mods))
	for template := range mods {
		templates = append(templates, template)
	}
	sort.Strings(templates)

	for _, template := range templates {
		if err := b.RegisterModule(template, mods[template]); err != nil {
			return err
		}
	}

	r.current.Store(b.tab)
	return nil
}

// Swap installs a prebuilt table, replacing the previous snapshot.
func (r *Registry) Swap(b *Builder) {
	r.current.Store(b.tab)
}

// Lookup resolves a request path. Resolution order:
//
//  1. exact match against a template with no dynamic segments,
//  2. named-segment match, iterating dynamic templates in registration
//     order (first structural match wins),
//  3. longest-prefix fallback among static templates (catch-all under a
//     path; preserved for compatibility even though overlapping
//     templates can shadow each other).
//
// A found entry with no handler for the request's method is the
// caller's 405 case, distinct from the miss/404 case.
func (r *Registry) Lookup(path string) (*LookupResult, bool) {
	tab := r.current.Load()

	// Step 1: exact static match.
	if entry, ok := tab.byTemplate[path]; ok && entry.compiled == nil {
		return &LookupResult{Entry: entry}, true
	}

	// Step 2: named-segment match in registration order.
	for _, entry := range tab.dynamic {
		if result := entry.compiled.Match(path); result.Matched {
			return &LookupResult{Entry: entry, Params: result.Params}, true
		}
	}

	// Step 3: longest-prefix fallback.
	var best *RouteEntry
	for _, entry := range tab.static {
		if entry.template == path {
			continue // already tried in step 1
		}
		if !strings.HasPrefix(path, entry.template) {
			continue
		}
		if best == nil || len(entry.template) > len(best.template) {
			best = entry
		}
	}
	if best != nil {
		return &LookupResult{Entry: best}, true
	}

	return nil, false
}

// Entries returns all entries of the current snapshot in a stable
// order: static templates first, then dynamic, each in registration
// order. Used by the documentation assembler; the returned entries must
// not be mutated.
func (r *Registry) Entries() []*RouteEntry {
	tab := r.current.Load()
	out := make([]*RouteEntry, 0, len(tab.static)+len(tab.dynamic))
	out = append(out, tab.static...)
	out = append(out, tab.dynamic...)
	return out
}

// Len returns the number of registered templates.
func (r *Registry) Len() int {
	return len(r.current.Load().byTemplate)
}
