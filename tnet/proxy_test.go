package tnet

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ridge/parallel"
	"github.com/ridge/trackmap/hwire"
	"github.com/ridge/trackmap/test"
	"github.com/stretchr/testify/require"
)

func TestSplice(t *testing.T) {
	group := test.Group(t)

	a1, a2 := net.Pipe()
	b1, b2 := net.Pipe()
	group.Spawn("splice", parallel.Continue, func(ctx context.Context) error {
		return Splice(ctx, a2, b1)
	})

	go func() {
		_, _ = a1.Write([]byte("ping"))
	}()
	buf := make([]byte, 4)
	_, err := io.ReadFull(b2, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))

	go func() {
		_, _ = b2.Write([]byte("pong"))
	}()
	_, err = io.ReadFull(a1, buf)
	require.NoError(t, err)
	require.Equal(t, "pong", string(buf))

	require.NoError(t, a1.Close())
	_, err = b2.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func startProxy(t *testing.T, p *ConnectProxy) string {
	l := ListenOnRandomPort()
	test.Group(t).Spawn("proxy", parallel.Continue, func(ctx context.Context) error {
		return p.Serve(ctx, l)
	})
	return l.Addr().String()
}

func roundTrip(t *testing.T, addr, request string) *hwire.Message {
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = io.WriteString(conn, request)
	require.NoError(t, err)
	resp, err := hwire.NewReader(conn).ReadResponse("GET", hwire.Limits{Timeout: 5 * time.Second})
	require.NoError(t, err)
	return resp
}

func TestConnectProxyForward(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, "%s %s", r.Method, r.URL.Path)
	}))
	defer target.Close()

	addr := startProxy(t, &ConnectProxy{})
	resp := roundTrip(t, addr, "GET "+target.URL+"/tiles/1 HTTP/1.1\r\nHost: "+target.Listener.Addr().String()+"\r\n\r\n")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "GET /tiles/1", string(resp.Body))
	require.True(t, resp.ExpectClose)
}

func TestConnectProxyAuth(t *testing.T) {
	addr := startProxy(t, &ConnectProxy{Auth: "Basic dTpw"})
	resp := roundTrip(t, addr, "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n")
	require.Equal(t, http.StatusProxyAuthRequired, resp.Code)
	require.Equal(t, `Basic realm="proxy"`, resp.Header.Get("Proxy-Authenticate"))
}

func TestConnectProxyTooLarge(t *testing.T) {
	addr := startProxy(t, &ConnectProxy{Limits: hwire.Limits{MaxSize: 100}})
	resp := roundTrip(t, addr, "POST http://example.com/ HTTP/1.1\r\nContent-Length: 1000\r\nExpect: 100-continue\r\n\r\n")
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
}
