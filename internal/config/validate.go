package config

import (
	"errors"
	"fmt"
	"net/url"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	// URL is required unless only printing the command or version
	if cfg.URL == "" && !cfg.PrintCmd && !cfg.Version {
		errs = append(errs, ValidationError{
			Field:   "url",
			Message: "page URL is required",
		})
	}

	if cfg.URL != "" {
		if err := validateURL(cfg.URL, "http", "https", "file", "about", "data"); err != nil {
			errs = append(errs, ValidationError{Field: "url", Message: err.Error()})
		}
	}

	if cfg.Endpoint != "" {
		if err := validateURL(cfg.Endpoint, "ws", "wss"); err != nil {
			errs = append(errs, ValidationError{Field: "endpoint", Message: err.Error()})
		}
		if cfg.ClickerPath != "" || cfg.Port != 0 || cfg.Headed {
			errs = append(errs, ValidationError{
				Field:   "endpoint",
				Message: "-endpoint cannot be combined with -clicker, -port or -headed",
			})
		}
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "port",
			Message: fmt.Sprintf("must be between 0 and 65535 (got %d)", cfg.Port),
		})
	}

	// Element steps need an element
	if cfg.Find == "" && (cfg.Click || cfg.Type != "" || cfg.Attribute != "") {
		errs = append(errs, ValidationError{
			Field:   "find",
			Message: "-click, -type and -attr require -find",
		})
	}

	if cfg.CallTimeout < 0 {
		errs = append(errs, ValidationError{Field: "call_timeout", Message: "must not be negative"})
	}
	if cfg.FindTimeout < 0 {
		errs = append(errs, ValidationError{Field: "find_timeout", Message: "must not be negative"})
	}
	if cfg.StartupTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "startup_timeout", Message: "must be positive"})
	}
	if cfg.GracePeriod <= 0 {
		errs = append(errs, ValidationError{Field: "grace_period", Message: "must be positive"})
	}
	if cfg.Hold < 0 {
		errs = append(errs, ValidationError{Field: "hold", Message: "must not be negative"})
	}

	// A find that outlives the call bound always times out
	if cfg.CallTimeout > 0 && cfg.FindTimeout > cfg.CallTimeout {
		errs = append(errs, ValidationError{
			Field:   "find_timeout",
			Message: fmt.Sprintf("must not exceed call timeout (%v), got %v", cfg.CallTimeout, cfg.FindTimeout),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// validateURL checks that rawURL parses and uses one of schemes.
func validateURL(rawURL string, schemes ...string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	ok := false
	for _, s := range schemes {
		if u.Scheme == s {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("URL scheme must be one of %v (got %q)", schemes, u.Scheme)
	}

	if (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "ws" || u.Scheme == "wss") && u.Host == "" {
		return errors.New("URL must have a host")
	}

	return nil
}
