package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/vburojevic/kernelbridge/internal/domain"
)

var (
	// ErrSessionDisposed is matched by every SessionDisposedError
	ErrSessionDisposed = errors.New("session disposed")
	// ErrNotConnected is returned when no kernel session is current
	ErrNotConnected = errors.New("no kernel session")
)

// SessionDisposedError is returned for operations after Dispose
type SessionDisposedError struct {
	Op string
}

func (e *SessionDisposedError) Error() string {
	return fmt.Sprintf("cannot %s: session disposed", e.Op)
}

func (e *SessionDisposedError) Unwrap() error { return ErrSessionDisposed }

// IdleWaitTimeoutError means the kernel did not report idle in time.
// Callers may retry with a fresh attempt.
type IdleWaitTimeoutError struct {
	KernelID string
	Timeout  time.Duration
}

func (e *IdleWaitTimeoutError) Error() string {
	return fmt.Sprintf("kernel %s did not become idle within %s", e.KernelID, e.Timeout)
}

// InvalidKernelConnectionError means the kernel connection could not be used
// to start a session. Retrying with the same connection is pointless.
type InvalidKernelConnectionError struct {
	Connection domain.KernelConnectionMetadata
	Err        error
}

func (e *InvalidKernelConnectionError) Error() string {
	return fmt.Sprintf("kernel %s is not usable: %v", e.Connection.DisplayName(), e.Err)
}

func (e *InvalidKernelConnectionError) Unwrap() error { return e.Err }
