package config

import (
	"fmt"
	"net/url"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// PUSH_HOST must be an absolute http(s) URL
	if cfg.PushHost != "" {
		u, err := url.Parse(cfg.PushHost)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "PUSH_HOST",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "PUSH_HOST",
				Message: fmt.Sprintf("must be an absolute http(s) URL, got %q", cfg.PushHost),
			})
		}
	}

	// PUSH_TIMEOUT must be a positive duration
	if cfg.PushTimeoutStr != "" {
		d, err := time.ParseDuration(cfg.PushTimeoutStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "PUSH_TIMEOUT",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "PUSH_TIMEOUT",
				Message: "must be positive",
			})
		}
	}

	// RECONCILE_GRACE must exceed the push timeout so the reconciler never
	// re-emits a task whose dispatch is still in flight.
	if cfg.ReconcileEnabled && cfg.ReconcileGrace <= cfg.PushTimeout {
		errs = append(errs, ValidationError{
			Field:   "RECONCILE_GRACE",
			Message: fmt.Sprintf("must exceed PUSH_TIMEOUT (%s), got %s", cfg.PushTimeoutStr, cfg.ReconcileGraceStr),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
