//go:build !linux

package tws

import "net"

// TCP_USER_TIMEOUT is Linux-only
func tuneTCP(net.Conn, Config) error {
	return nil
}
