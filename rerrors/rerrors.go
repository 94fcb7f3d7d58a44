// Package rerrors defines the error taxonomy of the resumable duplex
// connection layer, following the table in the resumption design: a
// transport loss is never surfaced, a store failure disposes the
// connection, a store-replay anomaly is reported to the peer.
package rerrors

import "fmt"

// ConnectionError is sent to the peer when the Resumable Frames Store's
// replay stream errors. The session observes this as a peer-visible
// error, not a silent close.
type ConnectionError struct {
	Message string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s", e.Message)
}

// ConnectionCloseError is sent to the peer when the Resumable Frames
// Store's replay stream completes. The store is meant to be open for the
// lifetime of the connection, so completion is treated as an anomaly.
type ConnectionCloseError struct {
	Message string
}

func (e *ConnectionCloseError) Error() string {
	return fmt.Sprintf("connection closed: %s", e.Message)
}

// AppError wraps an application- or peer-originated error that is sent on
// SendErrorAndClose. If Cause is non-nil, OnClose terminates with Cause;
// otherwise it completes normally.
type AppError struct {
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewConnectionError builds a ConnectionError from a message, mirroring
// ConnectionErrorException(t.getMessage()) in the source implementation.
func NewConnectionError(message string) *ConnectionError {
	return &ConnectionError{Message: message}
}

// NewConnectionCloseError builds a ConnectionCloseError.
func NewConnectionCloseError(message string) *ConnectionCloseError {
	return &ConnectionCloseError{Message: message}
}
