package client

import (
	"errors"
	"fmt"
)

// ErrSessionNotActive is returned when audio is submitted outside an active session.
var ErrSessionNotActive = errors.New("session is not active")

// ErrNotConnected is returned when a session operation runs before Connect.
var ErrNotConnected = errors.New("transport is not connected")

// ErrClosed is returned once the translator has been closed.
var ErrClosed = errors.New("translator is closed")

// ConnectError wraps a transport handshake failure with the service-side
// diagnostic log id when the service supplied one.
type ConnectError struct {
	Err   error
	LogID string
}

func (e *ConnectError) Error() string {
	if e.LogID == "" {
		return fmt.Sprintf("connect translation service: %v", e.Err)
	}
	return fmt.Sprintf("connect translation service (logid=%s): %v", e.LogID, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// SessionRejectedError reports a session the service refused to start or
// terminated with a failure event.
type SessionRejectedError struct {
	Message string
	LogID   string
}

func (e *SessionRejectedError) Error() string {
	if e.LogID == "" {
		return fmt.Sprintf("session rejected: %s", e.Message)
	}
	return fmt.Sprintf("session rejected (logid=%s): %s", e.LogID, e.Message)
}

// RecoveryExhaustedError reports that automatic recovery ran out of attempts.
type RecoveryExhaustedError struct {
	Attempts int
	Reason   string
	Err      error
}

func (e *RecoveryExhaustedError) Error() string {
	return fmt.Sprintf("session recovery failed after %d attempts (reason: %s): %v", e.Attempts, e.Reason, e.Err)
}

func (e *RecoveryExhaustedError) Unwrap() error {
	return e.Err
}
