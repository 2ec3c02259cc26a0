package api

import (
	"errors"

	nerrors "github.com/nikandfor/errors"
)

// ErrInterrupted marks a Poller.Poll return as an intentional interruption
// rather than a system error, so callers can distinguish "woken up on
// purpose" from "the wait itself failed".
var ErrInterrupted = errors.New("api: poll interrupted")

// SocketError describes a single failed accept: recoverable, the accept
// loop logs it and continues.
type SocketError struct {
	err error
}

// NewSocketError wraps cause as a recoverable per-accept failure.
func NewSocketError(cause error, msg string, args ...any) *SocketError {
	return &SocketError{err: nerrors.Wrap(cause, msg, args...)}
}

func (e *SocketError) Error() string { return e.err.Error() }
func (e *SocketError) Unwrap() error { return e.err }

// ServerError describes a fault in the listening socket itself: fatal,
// the accept loop logs it and returns by propagating it out of Run.
type ServerError struct {
	err error
}

// NewServerError wraps cause as a fatal listener-level failure.
func NewServerError(cause error, msg string, args ...any) *ServerError {
	return &ServerError{err: nerrors.Wrap(cause, msg, args...)}
}

func (e *ServerError) Error() string { return e.err.Error() }
func (e *ServerError) Unwrap() error { return e.err }
