package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/routegate/routegate/internal/util"
)

// Validate checks a configuration for errors. Rule patterns are
// validated syntactically here; compilation happens when the rule set
// is built.
func Validate(cfg *Config) error {
	if cfg == nil {
		return util.NewConfigError("", "configuration is nil")
	}

	if cfg.Server.Listen == "" {
		return util.NewConfigError("server.listen", "listen address is required")
	}

	seen := make(map[string]bool)
	for i := range cfg.Proxy.Rules {
		if err := validateRule(i, &cfg.Proxy.Rules[i], seen); err != nil {
			return err
		}
	}

	return nil
}

// validateRule checks one proxy rule.
func validateRule(index int, rule *RuleConfig, seen map[string]bool) error {
	field := fmt.Sprintf("proxy.rules[%d]", index)

	if rule.Pattern == "" {
		return util.NewConfigError(field+".pattern", "pattern is required")
	}
	if !strings.HasPrefix(rule.Pattern, "/") {
		return util.NewConfigError(field+".pattern", "pattern must start with /")
	}

	if seen[rule.Name] {
		return util.NewConfigError(field+".name", fmt.Sprintf("duplicate rule name %q", rule.Name))
	}
	seen[rule.Name] = true

	if rule.Target != "" {
		u, err := url.Parse(rule.Target)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return util.NewConfigError(field+".target",
				fmt.Sprintf("target %q is not an absolute URL", rule.Target))
		}
	}

	if rule.BasePath != "" && !strings.HasPrefix(rule.BasePath, "/") {
		return util.NewConfigError(field+".basePath", "basePath must start with /")
	}

	if rule.Timeout != 0 {
		if rule.Timeout.Duration() < MinForwardTimeout || rule.Timeout.Duration() > MaxForwardTimeout {
			return util.NewConfigError(field+".timeout",
				fmt.Sprintf("timeout must be between %s and %s", MinForwardTimeout, MaxForwardTimeout))
		}
	}

	if rule.Retries < 0 {
		return util.NewConfigError(field+".retries", "retries must not be negative")
	}

	if rule.Breaker.Enabled && rule.Breaker.Threshold < 0 {
		return util.NewConfigError(field+".breaker.threshold", "threshold must not be negative")
	}

	return nil
}
