package hclient

import (
	"net"

	"github.com/ridge/trackmap/hwire"
)

// Lease is a reusable connection owned by a single caller.
//
// The zero value holds nothing. Client.Do connects a Lease on demand, keeps the
// connection in it when the server allows reuse and discards it otherwise.
// A Lease must not be used by more than one request at a time.
type Lease struct {
	conn   net.Conn
	reader *hwire.Reader
	origin string
}

// Held reports whether the lease holds an open connection
func (l *Lease) Held() bool {
	return l.conn != nil
}

// Origin returns the scheme://host:port the held connection leads to, or ""
func (l *Lease) Origin() string {
	return l.origin
}

// Discard closes the held connection, if any
func (l *Lease) Discard() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	*l = Lease{}
	return err
}

func (l *Lease) keep(conn net.Conn, origin string) {
	l.conn = conn
	l.reader = hwire.NewReader(conn)
	l.origin = origin
}

// Take moves the held connection into a new lease, leaving l empty
func (l *Lease) Take() *Lease {
	taken := *l
	*l = Lease{}
	return &taken
}
