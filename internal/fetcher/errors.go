package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrDelayExceedsDeadline is returned when the politeness delay would end
// after the fetch context's deadline.
var ErrDelayExceedsDeadline = errors.New("politeness delay exceeds deadline")

// ErrorKind classifies a failed fetch.
type ErrorKind string

const (
	KindDisallowed ErrorKind = "disallowed"
	KindNetwork    ErrorKind = "network"
	KindHTTPStatus ErrorKind = "http_status"
	KindTimeout    ErrorKind = "timeout"
)

// FetchError is returned for every failed fetch.
type FetchError struct {
	URL        string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindDisallowed:
		return fmt.Sprintf("fetch %s: disallowed by robots.txt", e.URL)
	case KindHTTPStatus:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
		}
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same URL could succeed.
func (e *FetchError) Transient() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout:
		return !errors.Is(e.Err, context.Canceled) &&
			!errors.Is(e.Err, ErrTooManyRedirects) &&
			!errors.Is(e.Err, ErrDelayExceedsDeadline)
	case KindHTTPStatus:
		return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// IsKind reports whether err is a FetchError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

// transportError wraps an error from the HTTP round trip or body read.
func transportError(rawURL string, err error) *FetchError {
	kind := KindNetwork

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}

	return &FetchError{URL: rawURL, Kind: kind, Err: err}
}
