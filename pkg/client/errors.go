package client

import (
	"fmt"
	"net/http"
	"strings"
)

// ResolutionError is returned when none of the candidate operation
// identifiers for a logical action could be bound to the backend. It carries
// the full attempted list so callers can diagnose which backend layout is in
// use (tag-grouped vs default-grouped).
type ResolutionError struct {
	// Candidates is the ordered list of identifiers that were attempted.
	Candidates []string
	// LastErr is the last underlying lookup failure, if any.
	LastErr error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unable to resolve any of: %s", strings.Join(e.Candidates, ", "))
}

func (e *ResolutionError) Unwrap() error { return e.LastErr }

// HTTPError is returned when a remote call finished with a non-success status
// that was not (or could not be) recovered by the refresh-retry path.
type HTTPError struct {
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, string(e.Body))
}

// Unauthorized reports whether the failure is a 401 and therefore eligible
// for the dispatcher's single refresh-and-retry.
func (e *HTTPError) Unauthorized() bool { return e.Status == http.StatusUnauthorized }

// AuthError signals a token problem local to the client: a refresh attempted
// without both tokens present, or a login response with no extractable tokens.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "auth: " + e.Reason }

// ProtocolError signals a structurally unexpected response payload, such as a
// nonce response without a nonce field.
type ProtocolError struct {
	// Field is the name of the field that was expected but absent.
	Field string
	// Payload is the raw response body, kept for diagnostics.
	Payload []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("response missing %q: %s", e.Field, string(e.Payload))
}
