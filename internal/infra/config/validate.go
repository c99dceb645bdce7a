package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateGateway(cfg, ve)
	validateProviders(cfg, ve)
	validateFeeds(cfg, ve)
	validateFeatures(cfg, ve)
	validateSchedules(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
	validExporters  = map[string]bool{"": true, "noop": true, "stdout": true}
	validProbes     = map[string]bool{"static": true, "chromedp": true}
	validActions    = map[string]bool{"recheck": true, "recheck_all": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if cfg.Tracer.Enabled && !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is not supported", cfg.Tracer.Exporter)
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
	} else if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}

	switch cfg.Gateway.Auth.Type {
	case "":
	case "static":
		if len(cfg.Gateway.Auth.Tokens) == 0 {
			ve.Add("gateway.auth.tokens must not be empty when auth type is static")
		}
		for i, tok := range cfg.Gateway.Auth.Tokens {
			if tok.Token == "" {
				ve.Add("gateway.auth.tokens[%d].token must not be empty", i)
			}
		}
	default:
		ve.Add("gateway.auth.type %q must be static or empty", cfg.Gateway.Auth.Type)
	}

	if cfg.Gateway.RateLimit.RequestsPerSecond < 0 {
		ve.Add("gateway.rate_limit.requests_per_second must be >= 0")
	}
	if cfg.Gateway.RateLimit.RequestsPerSecond > 0 && cfg.Gateway.RateLimit.Burst <= 0 {
		ve.Add("gateway.rate_limit.burst must be > 0 when rate limiting is enabled")
	}
}

func validateProviders(cfg *Config, ve *ValidationError) {
	p := cfg.Providers
	if p.Login.CookieFile == "" {
		ve.Add("providers.login.cookie_file must not be empty")
	}
	if p.Login.Cookie == "" {
		ve.Add("providers.login.cookie must not be empty")
	}
	if p.Platform.GrantsFile == "" {
		ve.Add("providers.platform.grants_file must not be empty")
	}
	if !validProbes[p.PIP.Probe] {
		ve.Add("providers.pip.probe %q must be static or chromedp", p.PIP.Probe)
	}
	if p.PIP.Timeout < 0 {
		ve.Add("providers.pip.timeout must be >= 0")
	}
}

func validateFeeds(cfg *Config, ve *ValidationError) {
	if cfg.Feeds.Cookies.Enabled && cfg.Feeds.Cookies.Name == "" {
		ve.Add("feeds.cookies.name is required when the cookie feed is enabled")
	}
	if cfg.Feeds.Debounce < 0 {
		ve.Add("feeds.debounce must be >= 0")
	}
	if cfg.Feeds.MinInterval < 0 {
		ve.Add("feeds.min_interval must be >= 0")
	}
}

func validateFeatures(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool, len(cfg.Features))
	for i, f := range cfg.Features {
		if f.Name == "" {
			ve.Add("features[%d].name must not be empty", i)
			continue
		}
		if seen[f.Name] {
			ve.Add("features[%d].name %q is duplicated", i, f.Name)
		}
		seen[f.Name] = true
	}
}

func validateSchedules(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool, len(cfg.Schedules))
	for i, s := range cfg.Schedules {
		if s.Name == "" {
			ve.Add("schedules[%d].name must not be empty", i)
		} else if seen[s.Name] {
			ve.Add("schedules[%d].name %q is duplicated", i, s.Name)
		}
		seen[s.Name] = true
		if s.Schedule == "" {
			ve.Add("schedules[%d].schedule must not be empty", i)
		}
		if !validActions[s.Action] {
			ve.Add("schedules[%d].action %q must be recheck or recheck_all", i, s.Action)
		}
		if s.Action == "recheck" && len(s.Permissions) == 0 {
			ve.Add("schedules[%d].permissions must not be empty for recheck", i)
		}
	}
}
