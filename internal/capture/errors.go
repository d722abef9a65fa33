package capture

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// ErrTerminated is returned when the session stops retrying for a reason
// other than a read or sink failure
var ErrTerminated = errors.New("session terminated")

// SinkError wraps a failed write to the partitioned sink. It is always fatal.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink failure: %v", e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is an expected connection-level failure
// that should lead to a reconnect rather than termination
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var sinkErr *SinkError
	if errors.As(err, &sinkErr) {
		return false
	}

	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
