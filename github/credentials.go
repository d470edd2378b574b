package github

import "sync/atomic"

// CredentialRotator hands out API tokens round-robin. It is safe for
// concurrent use; two callers never observe the same cursor tick.
type CredentialRotator struct {
	credentials []string
	cursor      atomic.Uint64
}

// NewCredentialRotator creates a rotator over a copy of credentials
func NewCredentialRotator(credentials []string) *CredentialRotator {
	return &CredentialRotator{
		credentials: append([]string(nil), credentials...),
	}
}

// Next returns the credential under the cursor and advances it
func (r *CredentialRotator) Next() (string, error) {
	if len(r.credentials) == 0 {
		return "", ErrNoCredentials
	}
	tick := r.cursor.Add(1) - 1
	return r.credentials[tick%uint64(len(r.credentials))], nil
}

// Len returns the number of credentials
func (r *CredentialRotator) Len() int {
	return len(r.credentials)
}
