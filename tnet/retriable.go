package tnet

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/ridge/trackmap/retry"
)

// MaybeRetriableError converts given network error into
// retry.ErrRetriable if the network operation is retriable
func MaybeRetriableError(err error) error {
	if err == nil {
		return nil
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout) {
		return retry.Retriable(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return retry.Retriable(err)
	}
	for _, target := range []error{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EHOSTUNREACH, syscall.EPIPE, io.EOF, io.ErrUnexpectedEOF} {
		if errors.Is(err, target) {
			return retry.Retriable(err)
		}
	}
	// This is unexported error coming from DNS code
	if strings.Contains(err.Error(), "server misbehaving") {
		return retry.Retriable(err)
	}
	return err
}
