package remote

import (
	"errors"
	"fmt"
)

// AuthError means the remote system rejected our credentials. It is fatal
// to the operation that hit it; callers must not degrade around it.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("remote authentication failed: %s", e.Reason)
}

// UnavailableError wraps a transport-level failure (network, timeout,
// malformed response). Local write paths catch it and degrade to
// local-only; the sync pull path surfaces it.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("remote unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is (or wraps) an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}
