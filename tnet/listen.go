package tnet

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"strings"
	"time"

	"github.com/ridge/must/v2"
)

var lc = net.ListenConfig{
	KeepAlive: 3 * time.Minute,
}

// Listen installs a listener on the specified address.
//
// "unix:<path>" listens on a UNIX domain socket, replacing a stale socket file
// left by a previous run. "tcp:<host:port>" or a bare "<host:port>" listens on
// TCP with keep-alive enabled.
func Listen(ctx context.Context, address string) (net.Listener, error) {
	network := "tcp"
	if proto, rest, ok := strings.Cut(address, ":"); ok {
		switch proto {
		case "unix":
			network = "unix"
			address = rest
			if err := removeStaleSocket(address); err != nil {
				return nil, err
			}
		case "tcp":
			address = rest
		}
	}
	return lc.Listen(ctx, network, address)
}

func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	case fi.Mode()&fs.ModeSocket == 0:
		return &fs.PathError{Op: "listen", Path: path, Err: errors.New("exists and is not a socket")}
	}
	return os.Remove(path)
}

// ListenOnRandomPort selects a random local TCP port and installs a listener on
// it with TCP keep-alive enabled
func ListenOnRandomPort() net.Listener {
	return must.OK1(Listen(context.Background(), "localhost:"))
}
