package devicepair

import (
	"errors"
	"fmt"
)

var (
	ErrRegistrationFailed = errors.New("device registration failed")
	ErrExchangeFailed     = errors.New("device code exchange failed")
	ErrNotAuthenticated   = errors.New("device not authenticated")
	ErrPairingTimedOut    = errors.New("pairing timed out")

	// ErrKeyNotFound is returned by a Storer when nothing is saved under a key.
	ErrKeyNotFound = errors.New("key not found")
)

// StatusError reports a non-2xx response from the pairing backend.
// It unwraps to the sentinel for the operation that produced it, so callers
// can use errors.Is(err, ErrExchangeFailed) and still read the status code.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
	sentinel   error
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.sentinel, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.sentinel, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.sentinel
}

func newStatusError(op string, sentinel error, status int, body []byte) *StatusError {
	return &StatusError{
		Op:         op,
		StatusCode: status,
		Body:       string(body),
		sentinel:   sentinel,
	}
}
