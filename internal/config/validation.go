package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"

	"github.com/Dhanuzh/polychat/internal/theme"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errors ValidationErrors

	// Validate gateway
	switch c.Gateway.Kind {
	case GatewayOpenAI, GatewayHTTP:
	default:
		errors = append(errors, ValidationError{
			Field:   "gateway.kind",
			Message: fmt.Sprintf("unknown gateway kind '%s', valid: %s, %s", c.Gateway.Kind, GatewayOpenAI, GatewayHTTP),
		})
	}
	if c.Gateway.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "gateway.base_url",
			Message: "must be specified",
		})
	} else if u, err := url.Parse(c.Gateway.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "gateway.base_url",
			Message: fmt.Sprintf("not an absolute URL: %q", c.Gateway.BaseURL),
		})
	}
	if c.Gateway.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "gateway.timeout",
			Message: "must be non-negative",
		})
	}

	// Validate max_tokens
	if c.MaxTokens <= 0 {
		errors = append(errors, ValidationError{
			Field:   "max_tokens",
			Message: "must be positive",
		})
	}
	if c.MaxTokens > 1000000 {
		errors = append(errors, ValidationError{
			Field:   "max_tokens",
			Message: "exceeds reasonable limit (1M tokens)",
		})
	}

	// Validate temperature
	if c.Temperature < 0 {
		errors = append(errors, ValidationError{
			Field:   "temperature",
			Message: "must be non-negative",
		})
	}
	if c.Temperature > 2.0 {
		errors = append(errors, ValidationError{
			Field:   "temperature",
			Message: "must be <= 2.0",
		})
	}

	// Validate dispatch bounds
	if c.Dispatch.MaxConcurrent < 0 {
		errors = append(errors, ValidationError{
			Field:   "dispatch.max_concurrent",
			Message: "must be non-negative (0 = unlimited)",
		})
	}
	if c.Dispatch.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "dispatch.rate_limit",
			Message: "must be non-negative (0 = off)",
		})
	}
	if c.Dispatch.RateLimit > 0 && c.Dispatch.Burst < 1 {
		errors = append(errors, ValidationError{
			Field:   "dispatch.burst",
			Message: "must be at least 1 when rate_limit is set",
		})
	}

	// Validate model overrides
	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		field := fmt.Sprintf("models[%d]", i)
		if m.ID == "" {
			errors = append(errors, ValidationError{Field: field + ".id", Message: "must be specified"})
			continue
		}
		if seen[m.ID] {
			errors = append(errors, ValidationError{Field: field + ".id", Message: fmt.Sprintf("duplicate model '%s'", m.ID)})
		}
		seen[m.ID] = true
		if m.Temperature != nil && (*m.Temperature < 0 || *m.Temperature > 2.0) {
			errors = append(errors, ValidationError{Field: field + ".temperature", Message: "must be within 0.0-2.0"})
		}
		if m.MaxTokens < 0 {
			errors = append(errors, ValidationError{Field: field + ".max_tokens", Message: "must be non-negative"})
		}
	}

	// disabled_models accepts globs such as "openai/*"
	for i, pattern := range c.DisabledModels {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("disabled_models[%d]", i),
				Message: fmt.Sprintf("invalid pattern '%s': %v", pattern, err),
			})
		}
	}

	if c.Theme != "" {
		if _, ok := theme.Lookup(c.Theme); !ok {
			errors = append(errors, ValidationError{
				Field:   "theme",
				Message: fmt.Sprintf("unknown theme '%s', valid: %s", c.Theme, strings.Join(theme.Names(), ", ")),
			})
		}
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

// GetConfigPrecedence returns a description of config source precedence
func GetConfigPrecedence() string {
	return `Configuration is loaded in the following order (later sources override earlier):

1. Built-in defaults
2. Config file: --config, $POLYCHAT_CONFIG, or the first polychat.yaml found in
   $POLYCHAT_CONFIG_DIR, ~/.config/polychat, ./, ./.polychat
3. Environment variables (POLYCHAT_<SECTION>_<KEY>, OPENROUTER_API_KEY, OPENAI_API_KEY)
4. Command-line flags (--base-url, --log-level)
`
}
