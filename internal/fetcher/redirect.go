package fetcher

import (
	"errors"
	"net/http"
)

// ErrTooManyRedirects is returned when a page redirects more than the configured hop limit.
var ErrTooManyRedirects = errors.New("too many redirects")

// RedirectPolicy returns a CheckRedirect function that stops after maxHops.
// The returned error surfaces as a network FetchError wrapping ErrTooManyRedirects.
func RedirectPolicy(maxHops int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) >= maxHops {
			return ErrTooManyRedirects
		}
		return nil
	}
}
