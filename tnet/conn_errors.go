package tnet

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsClosedConnectionError returns if the passed error is "use of closed network connection"
func IsClosedConnectionError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// StripClosedConnectionError returns nil if the passed error is
// "use of closed network connection", and the original error otherwise.
//
// Such errors are expected every time a connection or a listener is closed
// to handle context cancellation.
func StripClosedConnectionError(err error) error {
	if IsClosedConnectionError(err) {
		return nil
	}
	return err
}

func stripIgnorableErrorForCopying(err error) error {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrClosedPipe) ||
		IsClosedConnectionError(err) {
		return nil
	}
	return err
}
