package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Validate checks the configuration and returns every problem found, or nil.
func (c *Config) Validate() error {
	var errs ValidationErrors

	validateURL(&errs, "backend.baseURL", c.Backend.BaseURL)
	validateURL(&errs, "oauth.authorizeURL", c.OAuth.AuthorizeURL)
	validateURL(&errs, "oauth.tokenURL", c.OAuth.TokenURL)
	if c.OAuth.RevokeURL != "" {
		validateURL(&errs, "oauth.revokeURL", c.OAuth.RevokeURL)
	}

	if strings.TrimSpace(c.OAuth.ClientID) == "" {
		errs.Add("oauth.clientID", "is required")
	}
	if !strings.HasPrefix(c.OAuth.CallbackPath, "/") {
		errs.Add("oauth.callbackPath", "must start with '/'", c.OAuth.CallbackPath)
	}

	validatePort(&errs, "oauth.preferredPort", c.OAuth.PreferredPort)
	for i, p := range c.OAuth.FallbackPorts {
		validatePort(&errs, fmt.Sprintf("oauth.fallbackPorts[%d]", i), p)
	}

	seen := make(map[string]bool)
	for i, p := range c.OAuth.Providers {
		field := fmt.Sprintf("oauth.providers[%d]", i)
		if p.Name == "" {
			errs.Add(field+".name", "is required")
		} else if seen[p.Name] {
			errs.Add(field+".name", "is duplicated", p.Name)
		}
		seen[p.Name] = true
		switch p.ResponseMode {
		case "", ResponseModeQuery, ResponseModeFormPost:
		default:
			errs.Add(field+".responseMode", "must be 'query' or 'form_post'", p.ResponseMode)
		}
	}

	if c.OAuth.Timeout <= 0 {
		errs.Add("oauth.timeout", "must be greater than zero", c.OAuth.Timeout)
	}
	if c.OAuth.RefreshBuffer <= 0 {
		errs.Add("oauth.refreshBuffer", "must be greater than zero", c.OAuth.RefreshBuffer)
	}
	if c.Usage.CacheTTL <= 0 {
		errs.Add("usage.cacheTTL", "must be greater than zero", c.Usage.CacheTTL)
	}
	if c.Usage.WarningThreshold < 0 || c.Usage.WarningThreshold >= 1 {
		errs.Add("usage.warningThreshold", "must be in [0, 1)", c.Usage.WarningThreshold)
	}
	if c.Storage.AppSecret == "" {
		errs.Add("storage.appSecret", "is required")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateURL(errs *ValidationErrors, field, raw string) {
	if raw == "" {
		errs.Add(field, "is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs.Add(field, "must be an absolute URL", raw)
		return
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		errs.Add(field, "must use http or https", raw)
	}
}

func validatePort(errs *ValidationErrors, field string, port int) {
	if port < 0 || port > 65535 {
		errs.Add(field, "must be between 0 and 65535", port)
	}
}
