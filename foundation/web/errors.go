package web

import "errors"

// shutdownError is returned by a handler that detects the application
// should terminate (for example, a context value that should always be
// present by construction is missing). The Errors middleware passes this
// type through, and App.Handle recognizes it and calls App.SignalShutdown.
type shutdownError struct {
	message string
}

// NewShutdownError wraps message as an error that, once it reaches the
// middleware chain, triggers a graceful application shutdown.
func NewShutdownError(message string) error {
	return &shutdownError{message}
}

func (e *shutdownError) Error() string {
	return e.message
}

// IsShutdown reports whether err (or anything it wraps) is a shutdown
// error.
func IsShutdown(err error) bool {
	var se *shutdownError
	return errors.As(err, &se)
}
