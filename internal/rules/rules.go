// Package rules holds the ordered set of forwarding rules consulted
// before route lookup.
//
// Rules are read-only configuration: the dispatcher and forwarder never
// mutate a matched rule. Hot reloads replace the whole set atomically.
package rules

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/routegate/routegate/internal/config"
	"github.com/routegate/routegate/internal/pattern"
)

// HookRequest is the input handed to an interception hook.
type HookRequest struct {
	Request *http.Request
	Params  map[string]string
	// Target is the rule's configured upstream, nil when the rule
	// declares none.
	Target *url.URL
}

// HookResponse is a final response supplied by a hook that declines to
// forward (auth gateways, mocks, rejections).
type HookResponse struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// HookResult is an interception hook's decision.
type HookResult struct {
	// Proceed allows the forward to continue. When false, Response
	// must carry the final response.
	Proceed bool

	// Response is returned verbatim when Proceed is false.
	Response *HookResponse

	// Target optionally overrides the outbound target when proceeding.
	Target *url.URL

	// Headers are merged into the outbound request when proceeding,
	// taking precedence over rule-level headers.
	Headers map[string]string
}

// Hook is caller-supplied logic invoked before forwarding. It may
// block, redirect or annotate the outbound request. A hook error fails
// the forward as an internal error.
type Hook func(ctx context.Context, req *HookRequest) (*HookResult, error)

// BreakerSettings holds per-rule circuit breaker settings.
type BreakerSettings struct {
	Enabled   bool
	Threshold int
	Timeout   time.Duration
}

// Rule is one compiled forwarding rule. Immutable after construction;
// per-request overrides are threaded through the forwarder separately.
type Rule struct {
	Name     string
	Pattern  string
	Target   *url.URL
	Hook     Hook
	Enabled  bool
	BasePath string
	Headers  map[string]string
	Timeout  time.Duration
	Retries  int
	Logging  bool
	Breaker  BreakerSettings

	compiled      *pattern.Compiled
	wildcardCount int
}

// NewRule compiles a rule from its configuration. The hook may be nil.
func NewRule(cfg config.RuleConfig, hook Hook) (*Rule, error) {
	compiled, err := pattern.CompileWildcard(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", cfg.Name, err)
	}

	var target *url.URL
	if cfg.Target != "" {
		target, err = url.Parse(cfg.Target)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid target %q: %w", cfg.Name, cfg.Target, err)
		}
	}

	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = config.DefaultForwardTimeout
	}

	return &Rule{
		Name:     cfg.Name,
		Pattern:  cfg.Pattern,
		Target:   target,
		Hook:     hook,
		Enabled:  cfg.IsEnabled(),
		BasePath: cfg.BasePath,
		Headers:  cfg.Headers,
		Timeout:  timeout,
		Retries:  cfg.Retries,
		Logging:  cfg.Logging,
		Breaker: BreakerSettings{
			Enabled:   cfg.Breaker.Enabled,
			Threshold: cfg.Breaker.Threshold,
			Timeout:   cfg.Breaker.Timeout.Duration(),
		},
		compiled:      compiled,
		wildcardCount: pattern.WildcardCount(cfg.Pattern),
	}, nil
}

// Match is the outcome of resolving a request path against the rule
// set. Params are positional (param0, param1, ...), matching the
// wildcard capture scheme.
type Match struct {
	Rule   *Rule
	Params map[string]string
}

// Set is an atomically replaceable collection of rules kept in
// specificity order.
type Set struct {
	mu sync.RWMutex
	// sorted caches the specificity order; rebuilt on Replace rather
	// than recomputed per lookup.
	sorted []*Rule
}

// NewSet creates a rule set.
func NewSet(rules ...*Rule) *Set {
	s := &Set{}
	s.Replace(rules)
	return s
}

// FromConfig compiles a rule set from configuration, binding hooks by
// rule name. Hooks referencing unknown rules are rejected so dead hook
// registrations do not go unnoticed.
func FromConfig(cfgs []config.RuleConfig, hooks map[string]Hook) (*Set, error) {
	known := make(map[string]bool, len(cfgs))
	rules := make([]*Rule, 0, len(cfgs))

	for _, cfg := range cfgs {
		known[cfg.Name] = true
		rule, err := NewRule(cfg, hooks[cfg.Name])
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	for name := range hooks {
		if !known[name] {
			return nil, fmt.Errorf("hook registered for unknown rule %q", name)
		}
	}

	return NewSet(rules...), nil
}

// Replace installs a new rule list, recomputing the specificity order.
// In-flight lookups complete against the previous order.
func (s *Set) Replace(rules []*Rule) {
	sorted := make([]*Rule, len(rules))
	copy(sorted, rules)

	// Fewer wildcards first (more specific); ties broken by longer
	// pattern. Stable so equal rules keep configuration order.
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].wildcardCount != sorted[j].wildcardCount {
			return sorted[i].wildcardCount < sorted[j].wildcardCount
		}
		return len(sorted[i].Pattern) > len(sorted[j].Pattern)
	})

	s.mu.Lock()
	s.sorted = sorted
	s.mu.Unlock()
}

// Rules returns the rules in specificity order.
func (s *Set) Rules() []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Rule, len(s.sorted))
	copy(out, s.sorted)
	return out
}

// Len returns the number of rules.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sorted)
}

// FindMatch resolves a request path to the first matching enabled rule
// in specificity order. A rule scoped by basePath only sees requests
// under that prefix, and matches against the path with the prefix
// stripped.
func (s *Set) FindMatch(path string) (*Match, bool) {
	s.mu.RLock()
	sorted := s.sorted
	s.mu.RUnlock()

	for _, rule := range sorted {
		if !rule.Enabled {
			continue
		}

		candidate := path
		if rule.BasePath != "" && rule.BasePath != "/" {
			if !strings.HasPrefix(path, rule.BasePath) {
				continue
			}
			candidate = strings.TrimPrefix(path, rule.BasePath)
		}

		if result := rule.compiled.Match(candidate); result.Matched {
			return &Match{Rule: rule, Params: result.Params}, true
		}
	}

	return nil, false
}
