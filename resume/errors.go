package resume

import "github.com/resume-rsocket/rsocket-resume-go/rerrors"

// The resume package surfaces the rerrors taxonomy under its own names so
// callers that only import resume never need a second import for the
// error types they receive back from OnClose, SendErrorAndClose, or
// Dispose.
type (
	// ConnectionError is sent to the peer when the Resumable Frames
	// Store's replay stream errors.
	ConnectionError = rerrors.ConnectionError
	// ConnectionCloseError is sent to the peer when the Resumable
	// Frames Store's replay stream completes unexpectedly.
	ConnectionCloseError = rerrors.ConnectionCloseError
	// AppError wraps an application- or peer-originated error passed to
	// SendErrorAndClose.
	AppError = rerrors.AppError
)

// NewConnectionError builds a ConnectionError from a message.
func NewConnectionError(message string) *ConnectionError {
	return rerrors.NewConnectionError(message)
}

// NewConnectionCloseError builds a ConnectionCloseError from a message.
func NewConnectionCloseError(message string) *ConnectionCloseError {
	return rerrors.NewConnectionCloseError(message)
}

// NewAppError builds an AppError wrapping cause, for use with
// SendErrorAndClose when the session itself originates the close.
func NewAppError(message string, cause error) *AppError {
	return &AppError{Message: message, Cause: cause}
}
