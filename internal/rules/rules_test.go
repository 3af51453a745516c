package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routegate/routegate/internal/config"
)

func mustRule(t *testing.T, cfg config.RuleConfig) *Rule {
	t.Helper()
	rule, err := NewRule(cfg, nil)
	require.NoError(t, err)
	return rule
}

func TestNewRule(t *testing.T) {
	t.Parallel()

	rule := mustRule(t, config.RuleConfig{
		Name:    "api",
		Pattern: "/api/**",
		Target:  "http://upstream.test:8080",
		Retries: 2,
		Timeout: config.Duration(5 * time.Second),
	})

	assert.Equal(t, "api", rule.Name)
	assert.Equal(t, "upstream.test:8080", rule.Target.Host)
	assert.Equal(t, 5*time.Second, rule.Timeout)
	assert.True(t, rule.Enabled)
}

func TestNewRule_DefaultTimeout(t *testing.T) {
	t.Parallel()

	rule := mustRule(t, config.RuleConfig{Name: "r", Pattern: "/x/*"})
	assert.Equal(t, config.DefaultForwardTimeout, rule.Timeout)
}

func TestNewRule_InvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := NewRule(config.RuleConfig{Name: "r", Pattern: ""}, nil)
	assert.Error(t, err)
}

func TestFindMatch_SpecificityOrdering(t *testing.T) {
	t.Parallel()

	// Exact pattern (no wildcards) beats wildcard pattern for the same
	// path, regardless of configuration order.
	set := NewSet(
		mustRule(t, config.RuleConfig{Name: "wild", Pattern: "/api/*"}),
		mustRule(t, config.RuleConfig{Name: "exact", Pattern: "/api/v1/users"}),
	)

	match, ok := set.FindMatch("/api/v1/users")
	require.True(t, ok)
	assert.Equal(t, "exact", match.Rule.Name)

	match, ok = set.FindMatch("/api/other")
	require.True(t, ok)
	assert.Equal(t, "wild", match.Rule.Name)
	assert.Equal(t, map[string]string{"param0": "other"}, match.Params)
}

func TestFindMatch_TieBrokenByPatternLength(t *testing.T) {
	t.Parallel()

	set := NewSet(
		mustRule(t, config.RuleConfig{Name: "short", Pattern: "/a/*"}),
		mustRule(t, config.RuleConfig{Name: "long", Pattern: "/a/b/c/*"}),
	)

	match, ok := set.FindMatch("/a/b/c/d")
	require.True(t, ok)
	assert.Equal(t, "long", match.Rule.Name)
}

func TestFindMatch_DisabledRulesSkipped(t *testing.T) {
	t.Parallel()

	disabled := false
	set := NewSet(
		mustRule(t, config.RuleConfig{Name: "off", Pattern: "/api/**", Enabled: &disabled}),
		mustRule(t, config.RuleConfig{Name: "on", Pattern: "/**"}),
	)

	match, ok := set.FindMatch("/api/users")
	require.True(t, ok)
	assert.Equal(t, "on", match.Rule.Name)
}

func TestFindMatch_BasePathScoping(t *testing.T) {
	t.Parallel()

	set := NewSet(
		mustRule(t, config.RuleConfig{Name: "scoped", Pattern: "/proxy/*", BasePath: "/external"}),
	)

	// Request under the base path matches, with the prefix stripped
	// before pattern matching.
	match, ok := set.FindMatch("/external/proxy/get")
	require.True(t, ok)
	assert.Equal(t, "scoped", match.Rule.Name)
	assert.Equal(t, map[string]string{"param0": "get"}, match.Params)

	// Request outside the base path is skipped, not an error.
	_, ok = set.FindMatch("/proxy/get")
	assert.False(t, ok)
}

func TestFindMatch_NoMatch(t *testing.T) {
	t.Parallel()

	set := NewSet(mustRule(t, config.RuleConfig{Name: "r", Pattern: "/api/*"}))

	_, ok := set.FindMatch("/other")
	assert.False(t, ok)
}

func TestReplace(t *testing.T) {
	t.Parallel()

	set := NewSet(mustRule(t, config.RuleConfig{Name: "old", Pattern: "/old/*"}))

	_, ok := set.FindMatch("/old/x")
	require.True(t, ok)

	set.Replace([]*Rule{mustRule(t, config.RuleConfig{Name: "new", Pattern: "/new/*"})})

	_, ok = set.FindMatch("/old/x")
	assert.False(t, ok)
	match, ok := set.FindMatch("/new/x")
	require.True(t, ok)
	assert.Equal(t, "new", match.Rule.Name)
	assert.Equal(t, 1, set.Len())
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	set, err := FromConfig([]config.RuleConfig{
		{Name: "auth", Pattern: "/auth/**"},
	}, map[string]Hook{
		"auth": func(_ context.Context, _ *HookRequest) (*HookResult, error) {
			return &HookResult{Proceed: true}, nil
		},
	})
	require.NoError(t, err)

	match, ok := set.FindMatch("/auth/sign-in")
	require.True(t, ok)
	assert.NotNil(t, match.Rule.Hook)
}

func TestFromConfig_UnknownHook(t *testing.T) {
	t.Parallel()

	_, err := FromConfig(nil, map[string]Hook{"ghost": nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown rule")
}
