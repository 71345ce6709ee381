package protocol

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrTimeout is returned when no matching reply arrived before the client deadline.
var ErrTimeout = errors.New("request timed out")

// RemoteError is an error reply sent by the daemon.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

// TransportError means the daemon could not be reached or the connection broke.
type TransportError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsDaemonNotRunning reports whether err means nothing is listening on the socket.
func IsDaemonNotRunning(err error) bool {
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		return false
	}
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr)
}
