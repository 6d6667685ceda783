package tnet

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ridge/parallel"
	"github.com/ridge/trackmap/hwire"
	"github.com/ridge/trackmap/tlog"
	"go.uber.org/zap"
)

// WriteOneWayCloser is a io.WriteCloser that can also be closed for writing (TCP stream, TLS session)
type WriteOneWayCloser interface {
	io.WriteCloser
	CloseWrite() error
}

// CopyNetworkStream copies data from from to to, closing destination stream
// for writing when done. A destination without half-close is closed fully.
func CopyNetworkStream(to io.WriteCloser, from io.Reader) error {
	_, err := io.Copy(to, from)
	// ignore any errors from shutdown(2) - remote socket might not be connected anymore
	if wc, ok := to.(WriteOneWayCloser); ok {
		_ = wc.CloseWrite()
	} else {
		_ = to.Close()
	}
	return stripIgnorableErrorForCopying(err)
}

// Splice copies data both ways between a and b until both directions are
// finished or ctx is closed. Both connections are closed on return.
func Splice(ctx context.Context, a, b net.Conn) error {
	defer a.Close()
	defer b.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = a.Close()
		_ = b.Close()
	})
	defer stop()

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("a-to-b", parallel.Continue, func(ctx context.Context) error {
			return CopyNetworkStream(b, a)
		})
		spawn("b-to-a", parallel.Continue, func(ctx context.Context) error {
			return CopyNetworkStream(a, b)
		})
		return nil
	})
}

// ConnectProxy is a minimal HTTP proxy: it opens CONNECT tunnels and forwards
// absolute-form requests, one per client connection
type ConnectProxy struct {
	// Auth is the required Proxy-Authorization value; empty means none
	Auth string

	// Limits for requests and responses passing through
	Limits hwire.Limits

	Dialer net.Dialer
}

// Serve accepts proxy clients until ctx is closed
func (p *ConnectProxy) Serve(ctx context.Context, listener net.Listener) error {
	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("closer", parallel.Continue, func(ctx context.Context) error {
			<-ctx.Done()
			_ = listener.Close()
			return nil
		})
		spawn("listener", parallel.Continue, func(ctx context.Context) error {
			for {
				conn, err := listener.Accept()
				if err != nil {
					return StripClosedConnectionError(err)
				}
				spawn(conn.RemoteAddr().String(), parallel.Continue, func(ctx context.Context) error {
					if err := p.handle(ctx, conn); err != nil {
						tlog.Get(ctx).Debug("Proxy connection failed", zap.Stringer("client", conn.RemoteAddr()), zap.Error(err))
					}
					return nil
				})
			}
		})
		return nil
	})
}

func (p *ConnectProxy) handle(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	r := hwire.NewReader(conn)
	req, err := r.ReadRequest(p.Limits)
	switch {
	case errors.Is(err, hwire.ErrMalformed):
		return reply(conn, http.StatusBadRequest, err)
	case err != nil:
		return err // too large or badly encoded requests are answered by the reader
	}

	if p.Auth != "" && req.Header.Get("Proxy-Authorization") != p.Auth {
		var h hwire.Header
		h.Set("Proxy-Authenticate", `Basic realm="proxy"`)
		h.Set("Content-Length", "0")
		h.Set("Connection", "close")
		return hwire.WriteResponseHead(conn, http.StatusProxyAuthRequired, "", &h)
	}

	if req.Method == http.MethodConnect {
		return p.tunnel(ctx, conn, r, req)
	}
	return p.forward(ctx, conn, req)
}

func (p *ConnectProxy) tunnel(ctx context.Context, conn net.Conn, r *hwire.Reader, req *hwire.Message) error {
	upstream, err := p.Dialer.DialContext(ctx, "tcp", req.Path)
	if err != nil {
		return reply(conn, http.StatusBadGateway, err)
	}
	tlog.Get(ctx).Debug("Proxy tunnel opened", zap.String("target", req.Path))

	var h hwire.Header
	if err := hwire.WriteResponseHead(conn, http.StatusOK, "Connection established", &h); err != nil {
		_ = upstream.Close()
		return err
	}
	if early := r.Drain(); len(early) > 0 {
		if _, err := upstream.Write(early); err != nil {
			_ = upstream.Close()
			return err
		}
	}
	// the deadline left by the request reader must not cut the tunnel
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		_ = upstream.Close()
		return err
	}
	return Splice(ctx, conn, upstream)
}

func (p *ConnectProxy) forward(ctx context.Context, conn net.Conn, req *hwire.Message) error {
	u, err := url.Parse(req.Path)
	if err != nil || u.Scheme != "http" || u.Host == "" {
		return reply(conn, http.StatusBadRequest, err)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "80")
	}

	upstream, err := p.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return reply(conn, http.StatusBadGateway, err)
	}
	defer upstream.Close()

	out := *req
	out.Path = u.RequestURI()
	out.Header = req.Header.Clone()
	out.Header.Del("Proxy-Authorization", "Proxy-Connection")
	out.Header.Set("Connection", "close")
	if out.Header.Has("Transfer-Encoding") {
		out.Header.Del("Transfer-Encoding")
		out.Header.Set("Content-Length", strconv.Itoa(len(out.Body)))
	}
	if _, err := out.WriteTo(upstream); err != nil {
		return reply(conn, http.StatusBadGateway, err)
	}

	ur := hwire.NewReader(upstream)
	resp, err := ur.ReadResponse(req.Method, p.Limits)
	for err == nil && resp.Code < http.StatusOK {
		resp, err = ur.ReadResponse(req.Method, p.Limits)
	}
	if err != nil {
		return reply(conn, http.StatusBadGateway, err)
	}
	if req.Method != http.MethodHead {
		resp.Header.Del("Transfer-Encoding")
		resp.Header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	resp.Header.Set("Connection", "close")
	_, err = resp.WriteTo(conn)
	return err
}

func reply(conn net.Conn, code int, cause error) error {
	var h hwire.Header
	h.Set("Content-Length", "0")
	h.Set("Connection", "close")
	if err := hwire.WriteResponseHead(conn, code, "", &h); err != nil {
		return err
	}
	return cause
}
