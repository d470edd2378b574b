package github

import "fmt"

// Common errors
var (
	ErrConfiguration    = fmt.Errorf("configuration error")
	ErrNoCredentials    = fmt.Errorf("%w: no credentials configured", ErrConfiguration)
	ErrRateLimited      = fmt.Errorf("rate limit exceeded")
	ErrUnexpectedStatus = fmt.Errorf("unexpected status code")
	ErrMissingSHA       = fmt.Errorf("commit summary has no sha")
)

// FetchError reports a failed authenticated request. Err holds the original
// cause: a transport error, a decode error, ErrRateLimited or ErrUnexpectedStatus.
type FetchError struct {
	URL        string
	StatusCode int
	RateLimit  RateLimit
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
