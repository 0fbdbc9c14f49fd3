package sources

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/extractor"
)

// ValidationError reports a source field that cannot be crawled as configured.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid source %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks a source and compiles its selectors. It is called when a
// source is saved and again when a job starts.
func Validate(src *domain.Source) (*extractor.Selectors, error) {
	if src == nil {
		return nil, &ValidationError{Field: "source", Message: "is nil"}
	}

	if err := validateURL(src.URL); err != nil {
		return nil, err
	}
	if src.DelayBetweenRequests < 0 {
		return nil, &ValidationError{Field: "delay_between_requests", Message: "must not be negative"}
	}
	if src.MaxPages < 1 {
		return nil, &ValidationError{Field: "max_pages", Message: "must be at least 1"}
	}
	if !src.Schedule.Valid() {
		return nil, &ValidationError{Field: "schedule", Message: fmt.Sprintf("unknown cadence %q", src.Schedule)}
	}

	sel, err := extractor.Compile(src.Selectors)
	if err != nil {
		var se *extractor.SelectorError
		if errors.As(err, &se) {
			return nil, &ValidationError{Field: se.Field + "_selector", Message: se.Err.Error()}
		}
		return nil, fmt.Errorf("compile selectors: %w", err)
	}

	return sel, nil
}

func validateURL(raw string) error {
	if raw == "" {
		return &ValidationError{Field: "url", Message: "is required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Field: "url", Message: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Message: "must be an http or https URL"}
	}
	if u.Host == "" {
		return &ValidationError{Field: "url", Message: "must include a host"}
	}
	return nil
}
