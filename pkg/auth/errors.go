package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials means the identity server rejected the credentials.
	// Transports must return (or wrap) it for wrong passwords so the service
	// can tell it apart from infrastructure failures.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSessionExpired means the current session passed its expiry and
	// could not be refreshed
	ErrSessionExpired = errors.New("session expired")

	// ErrNoSession means no session is held
	ErrNoSession = errors.New("no active session")

	// ErrLoginSuperseded means a logout or a newer login happened while the
	// credential exchange was in flight; the result was discarded
	ErrLoginSuperseded = errors.New("login superseded")

	// ErrRefreshNotAllowed means the session strategy has no refresh path
	ErrRefreshNotAllowed = errors.New("session cannot be refreshed")

	// ErrLockoutUnavailable means the lockout state could not be read, so the
	// login was refused without contacting the identity server
	ErrLockoutUnavailable = errors.New("lockout state unavailable")
)

// LockedOutError is returned when the principal key is locked
type LockedOutError struct {
	Key       string
	Remaining time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("account %q is locked for another %s", e.Key, e.Remaining.Round(time.Second))
}

// TransportError wraps a network or server failure from the transport
// collaborator. It never counts toward lockout.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is or wraps a *TransportError
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
