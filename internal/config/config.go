// Package config defines the resolved configuration consumed by the
// route server: listener settings, logging, proxy rules and
// documentation options. Configuration is loaded from YAML with
// environment variable substitution and validated eagerly; the dispatch
// core only ever sees a validated Config value.
package config

import "time"

// Default server settings.
const (
	DefaultListenAddr      = ":8080"
	DefaultAdminAddr       = ":9090"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 15 * time.Second

	// DefaultForwardTimeout bounds one outbound attempt when a rule
	// does not set its own timeout.
	DefaultForwardTimeout = 30 * time.Second

	// MinForwardTimeout and MaxForwardTimeout bound rule-configured
	// forward timeouts.
	MinForwardTimeout = 1 * time.Second
	MaxForwardTimeout = 60 * time.Second
)

// Config is the root configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Docs    DocsConfig    `yaml:"docs"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	// Listen is the data listener address serving dispatched routes.
	Listen string `yaml:"listen"`

	// AdminListen is the admin listener address serving health,
	// metrics and documentation endpoints.
	AdminListen string `yaml:"adminListen"`

	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ProxyConfig holds the forwarding configuration.
type ProxyConfig struct {
	// Enabled gates the proxy check globally; when false no rule is
	// ever consulted.
	Enabled bool `yaml:"enabled"`

	Rules []RuleConfig `yaml:"rules"`
}

// BreakerConfig holds per-rule circuit breaker settings.
type BreakerConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Threshold int      `yaml:"threshold"`
	Timeout   Duration `yaml:"timeout"`
}

// RuleConfig declares one forwarding rule.
type RuleConfig struct {
	// Name identifies the rule in logs and metrics. Defaults to the
	// pattern when empty.
	Name string `yaml:"name"`

	// Pattern is a wildcard path pattern (* one segment, ** a span).
	Pattern string `yaml:"pattern"`

	// Target is the upstream base URL. May be empty when an
	// interception hook supplies the target at dispatch time.
	Target string `yaml:"target"`

	// Enabled defaults to true; disabled rules are never consulted.
	Enabled *bool `yaml:"enabled"`

	// BasePath scopes the rule to requests under a path prefix; the
	// prefix is stripped before pattern matching.
	BasePath string `yaml:"basePath"`

	// Headers are default header overrides applied to the outbound
	// request. Hook-supplied headers take precedence over these.
	Headers map[string]string `yaml:"headers"`

	// Timeout bounds each outbound attempt.
	Timeout Duration `yaml:"timeout"`

	// Retries is the number of retries after the initial attempt for
	// transport-level failures.
	Retries int `yaml:"retries"`

	// Logging gates per-attempt logs. Configuration errors are logged
	// regardless.
	Logging bool `yaml:"logging"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// IsEnabled reports whether the rule is enabled (default true).
func (r *RuleConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// DocsConfig holds documentation assembly settings.
type DocsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Title       string `yaml:"title"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          DefaultListenAddr,
			AdminListen:     DefaultAdminAddr,
			ReadTimeout:     Duration(DefaultReadTimeout),
			WriteTimeout:    Duration(DefaultWriteTimeout),
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Docs: DocsConfig{
			Enabled: true,
			Title:   "routegate",
			Version: "0.1.0",
		},
	}
}

// ApplyDefaults fills zero-valued fields from Default.
func (c *Config) ApplyDefaults() {
	def := Default()

	if c.Server.Listen == "" {
		c.Server.Listen = def.Server.Listen
	}
	if c.Server.AdminListen == "" {
		c.Server.AdminListen = def.Server.AdminListen
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = def.Server.WriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Logging.Output == "" {
		c.Logging.Output = def.Logging.Output
	}
	if c.Docs.Title == "" {
		c.Docs.Title = def.Docs.Title
	}
	if c.Docs.Version == "" {
		c.Docs.Version = def.Docs.Version
	}

	for i := range c.Proxy.Rules {
		rule := &c.Proxy.Rules[i]
		if rule.Name == "" {
			rule.Name = rule.Pattern
		}
		if rule.Timeout == 0 {
			rule.Timeout = Duration(DefaultForwardTimeout)
		}
	}
}
