package extractor

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an extraction failure.
type ErrorKind string

const (
	// KindNoContent means the page has nothing to stage. It is a skip, not a failure.
	KindNoContent ErrorKind = "no_content"
	// KindMalformedSelector means a stored selector no longer compiles.
	KindMalformedSelector ErrorKind = "malformed_selector"
)

// ExtractionError is returned by Extract.
type ExtractionError struct {
	URL  string
	Kind ErrorKind
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extract %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("extract %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// IsNoContent reports whether err is a NoContent extraction error.
func IsNoContent(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee) && ee.Kind == KindNoContent
}

var (
	errNoContentMatch = errors.New("content selector matched nothing")
	errBodyTooShort   = errors.New("body shorter than minimum length")
	errNoTitle        = errors.New("page has no title")
	errNotCompiled    = errors.New("selectors not compiled")
)
