package tws

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

func tuneTCP(conn net.Conn, config Config) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok || config.TCPTimeout == 0 {
		return nil
	}
	raw, err := tcp.SyscallConn()
	if err != nil {
		return fmt.Errorf("failed to tune TCP socket: %w", err)
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(config.TCPTimeout/time.Millisecond))
	})
	if err := errors.Join(err, sockErr); err != nil {
		return fmt.Errorf("failed to set TCP user timeout: %w", err)
	}
	return nil
}
