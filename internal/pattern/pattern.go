// Package pattern compiles route path templates and proxy wildcard
// patterns into anchored matching predicates.
//
// Two pattern front ends exist because they are populated from
// different sources: route templates discovered from the filesystem use
// named dynamic segments ([id]), while proxy rules declared in
// configuration use wildcard tokens (* and **). Captured parameters are
// keyed by segment name for templates and positionally (param0,
// param1, ...) for wildcards. A compiled pattern is immutable and safe
// for concurrent use.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// MatchResult is the outcome of matching a path against a compiled
// pattern. It has no identity beyond a single dispatch call.
type MatchResult struct {
	Matched bool
	Params  map[string]string
}

// Compiled is a compiled path pattern.
type Compiled struct {
	pattern string
	regex   *regexp.Regexp
	// names holds capture names in left-to-right order. Empty for
	// patterns with no dynamic tokens.
	names []string
}

// Pattern returns the original pattern text.
func (c *Compiled) Pattern() string {
	return c.pattern
}

// ParamNames returns the capture names in left-to-right order.
func (c *Compiled) ParamNames() []string {
	return c.names
}

// Match tests path against the pattern. On success the returned result
// carries one value per dynamic token; a pattern with no dynamic tokens
// matches only on exact equality.
func (c *Compiled) Match(path string) MatchResult {
	matches := c.regex.FindStringSubmatch(path)
	if matches == nil {
		return MatchResult{}
	}

	if len(c.names) == 0 {
		return MatchResult{Matched: true}
	}

	params := make(map[string]string, len(c.names))
	for i, name := range c.names {
		if i+1 < len(matches) {
			params[name] = matches[i+1]
		}
	}

	return MatchResult{Matched: true, Params: params}
}

// templateSegment is one segment of a route template.
type templateSegment struct {
	value     string
	isParam   bool
	paramName string
}

// CompileTemplate compiles a route template with named dynamic segments
// ([name] matches exactly one path segment). Validation is eager:
// unbalanced or empty segment markers are rejected at compile time
// rather than producing silent mismatches at dispatch time.
func CompileTemplate(template string) (*Compiled, error) {
	if template == "" || !strings.HasPrefix(template, "/") {
		return nil, fmt.Errorf("invalid route template %q: must start with /", template)
	}

	segments, err := parseTemplate(template)
	if err != nil {
		return nil, err
	}

	var names []string
	var sb strings.Builder
	sb.WriteString("^")

	if len(segments) == 0 {
		// Root template.
		sb.WriteString("/")
	}

	for _, seg := range segments {
		if seg.isParam {
			sb.WriteString("/([^/]+)")
			names = append(names, seg.paramName)
		} else {
			sb.WriteString("/")
			sb.WriteString(regexp.QuoteMeta(seg.value))
		}
	}
	sb.WriteString("$")

	regex, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("compile template %q: %w", template, err)
	}

	return &Compiled{
		pattern: template,
		regex:   regex,
		names:   names,
	}, nil
}

// parseTemplate splits a route template into segments, validating
// dynamic segment markers.
func parseTemplate(template string) ([]templateSegment, error) {
	parts := strings.Split(strings.Trim(template, "/"), "/")
	segments := make([]templateSegment, 0, len(parts))

	for _, part := range parts {
		if part == "" {
			continue
		}

		switch {
		case strings.HasPrefix(part, "[") && strings.HasSuffix(part, "]"):
			name := part[1 : len(part)-1]
			if name == "" {
				return nil, fmt.Errorf("invalid route template %q: empty parameter name", template)
			}
			if strings.ContainsAny(name, "[]") {
				return nil, fmt.Errorf("invalid route template %q: nested brackets in %q", template, part)
			}
			segments = append(segments, templateSegment{
				value:     part,
				isParam:   true,
				paramName: name,
			})
		case strings.ContainsAny(part, "[]"):
			return nil, fmt.Errorf("invalid route template %q: unbalanced brackets in %q", template, part)
		default:
			segments = append(segments, templateSegment{value: part})
		}
	}

	return segments, nil
}

// CompileWildcard compiles a proxy rule pattern using wildcard tokens.
// A single * captures exactly one path segment; ** captures a span of
// segments using the shortest valid match so a trailing literal is not
// swallowed. Captures are named positionally (param0, param1, ...) in
// left-to-right order. All other characters match literally.
func CompileWildcard(wildcard string) (*Compiled, error) {
	if wildcard == "" {
		return nil, fmt.Errorf("invalid wildcard pattern: empty")
	}

	var names []string
	var sb strings.Builder
	sb.WriteString("^")

	// ** must be handled before * so one wildcard syntax does not
	// corrupt the other.
	i := 0
	for i < len(wildcard) {
		switch {
		case i+1 < len(wildcard) && wildcard[i:i+2] == "**":
			sb.WriteString("(.*?)")
			names = append(names, fmt.Sprintf("param%d", len(names)))
			i += 2
		case wildcard[i] == '*':
			sb.WriteString("([^/]+)")
			names = append(names, fmt.Sprintf("param%d", len(names)))
			i++
		default:
			sb.WriteString(regexp.QuoteMeta(string(wildcard[i])))
			i++
		}
	}
	sb.WriteString("$")

	regex, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("compile wildcard %q: %w", wildcard, err)
	}

	return &Compiled{
		pattern: wildcard,
		regex:   regex,
		names:   names,
	}, nil
}

// HasTemplateParams reports whether a route template contains named
// dynamic segments.
func HasTemplateParams(template string) bool {
	return strings.Contains(template, "[") && strings.Contains(template, "]")
}

// HasWildcards reports whether a pattern contains wildcard tokens.
func HasWildcards(pattern string) bool {
	return strings.Contains(pattern, "*")
}

// WildcardCount counts wildcard tokens in a pattern; ** counts as one
// token. Used for specificity ordering of proxy rules.
func WildcardCount(pattern string) int {
	count := 0
	i := 0
	for i < len(pattern) {
		if i+1 < len(pattern) && pattern[i:i+2] == "**" {
			count++
			i += 2
			continue
		}
		if pattern[i] == '*' {
			count++
		}
		i++
	}
	return count
}
