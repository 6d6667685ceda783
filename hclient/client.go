package hclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ridge/trackmap/hwire"
	"github.com/ridge/trackmap/retry"
	"github.com/ridge/trackmap/tlog"
	"github.com/ridge/trackmap/tnet"
	"go.uber.org/zap"
)

const (
	// DefaultTimeout is used when Request.Timeout is zero
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRedirects is used when Config.MaxRedirects is zero
	DefaultMaxRedirects = 5

	// DefaultContinueTimeout is how long to wait for 100 Continue
	DefaultContinueTimeout = time.Second

	// DefaultUserAgent is sent when neither the request nor Config has one
	DefaultUserAgent = "trackmap/1"

	maxInterim = 5
)

var (
	// ErrUnsupportedScheme is returned for URLs other than http and https
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")

	// ErrTooManyRedirects is returned when a redirect chain is too long
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrInterimLoop is returned when a server keeps sending 1xx responses
	ErrInterimLoop = errors.New("too many interim responses")

	// ErrProxyRefused is returned when the proxy does not open a tunnel
	ErrProxyRefused = errors.New("proxy refused to connect")

	// ErrNoContinue is returned when a request expecting 100 Continue gets
	// no response in time; its body is not sent
	ErrNoContinue = errors.New("no 100 Continue received")
)

// ProxyConfig routes requests through an HTTP proxy
type ProxyConfig struct {
	// URL of the proxy, http or https. User info, if any, is sent as Basic
	// Proxy-Authorization.
	URL *url.URL

	// TLS configures the leg to an https proxy
	TLS *tls.Config
}

// Config is the client configuration
type Config struct {
	TLS             *tls.Config // for https targets; nil means defaults
	Proxy           *ProxyConfig
	Dialer          *net.Dialer
	UserAgent       string
	MaxRedirects    int
	ContinueTimeout time.Duration
}

// Client executes HTTP/1.1 requests over connections it manages itself
type Client struct {
	config Config
}

// New creates a client
func New(config Config) *Client {
	if config.Dialer == nil {
		config.Dialer = &net.Dialer{KeepAlive: 3 * time.Minute}
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.MaxRedirects == 0 {
		config.MaxRedirects = DefaultMaxRedirects
	}
	if config.ContinueTimeout == 0 {
		config.ContinueTimeout = DefaultContinueTimeout
	}
	return &Client{config: config}
}

// Request describes a request to execute
type Request struct {
	URL *url.URL

	// Method defaults to GET, or POST when Body is not nil
	Method string

	// Header fields to send. Host, Content-Length, Connection and Expect are
	// managed by the client. Setting Transfer-Encoding to chunked sends the
	// body chunk-encoded.
	Header hwire.Header

	Body []byte

	// Timeout applies to connecting and to every read; 0 means DefaultTimeout
	Timeout time.Duration

	MaxSize       int64
	MaxHeaderSize int

	// Decompress asks for and decodes gzip or deflate response bodies
	Decompress bool

	// ExpectContinue makes the client wait for 100 Continue before sending
	// the body
	ExpectContinue bool
}

func (r *Request) limits() hwire.Limits {
	return hwire.Limits{
		MaxSize:       r.MaxSize,
		MaxHeaderSize: r.MaxHeaderSize,
		Timeout:       r.Timeout,
		Decompress:    r.Decompress,
	}
}

// Do executes a request and returns the final response.
//
// With a nil lease the request uses a private connection closed afterwards.
// Otherwise the leased connection is reused when it leads to the same origin,
// and is left in the lease when the server allows reuse. On error the lease
// is always discarded.
//
// Redirects are followed; a failed exchange is retried once on a fresh
// connection.
func (c *Client) Do(ctx context.Context, req Request, lease *Lease) (*hwire.Message, error) {
	private := lease == nil
	if private {
		lease = &Lease{}
		defer lease.Discard()
	}
	if req.Timeout == 0 {
		req.Timeout = DefaultTimeout
	}
	if req.Method == "" {
		req.Method = http.MethodGet
		if req.Body != nil {
			req.Method = http.MethodPost
		}
	}
	req.Header = req.Header.Clone()

	for redirects := 0; ; redirects++ {
		resp, err := retry.Do1(ctx, retry.Attempts(2), func() (*hwire.Message, error) {
			return c.exchange(ctx, &req, lease, private)
		})
		if err != nil {
			_ = lease.Discard()
			return nil, err
		}

		location := resp.Header.Get("Location")
		if resp.Code/100 != 3 || resp.Code == http.StatusNotModified || location == "" {
			return resp, nil
		}
		if redirects == c.config.MaxRedirects {
			_ = lease.Discard()
			return nil, fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, redirects)
		}
		next, err := req.URL.Parse(location)
		if err != nil {
			_ = lease.Discard()
			return nil, fmt.Errorf("bad redirect location %q: %w", location, err)
		}
		tlog.Get(ctx).Debug("Following redirect", zap.Int("code", resp.Code), zap.Stringer("from", req.URL), zap.Stringer("to", next))

		if resp.Code == http.StatusSeeOther && req.Method != http.MethodHead {
			req.Method = http.MethodGet
			req.Body = nil
			req.Header.Del("Content-Type", "Content-Length", "Transfer-Encoding", "Content-Encoding", "Expect")
		}
		if next.Host != req.URL.Host {
			req.Header.Del("Authorization", "Cookie")
		}
		req.URL = next
	}
}

// exchange sends the request once and reads the final response
func (c *Client) exchange(ctx context.Context, req *Request, lease *Lease, private bool) (*hwire.Message, error) {
	origin, err := Origin(req.URL)
	if err != nil {
		return nil, err
	}
	if lease.conn != nil && lease.origin != origin {
		_ = lease.Discard()
	}
	reused := lease.conn != nil
	if !reused {
		conn, err := c.connect(ctx, req.URL, req.Timeout)
		if err != nil {
			return nil, err
		}
		lease.keep(conn, origin)
	}

	conn := lease.conn
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0)) // unblocks any pending I/O
	})
	resp, err := c.roundTrip(ctx, req, lease, private)
	if !stop() && err == nil {
		private = true // the connection is poisoned by the expired deadline
	}

	if err != nil {
		_ = lease.Discard()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		tlog.Get(ctx).Debug("HTTP exchange failed", zap.String("method", req.Method), zap.Stringer("url", req.URL), zap.Bool("reused", reused), zap.Error(err))
		if errors.Is(err, hwire.ErrTooLarge) || errors.Is(err, hwire.ErrUnsupportedEncoding) || errors.Is(err, ErrInterimLoop) {
			return nil, err
		}
		return nil, retry.Retriable(err)
	}

	tlog.Get(ctx).Debug("HTTP exchange", zap.String("method", req.Method), zap.Stringer("url", req.URL),
		zap.Int("code", resp.Code), zap.Int("size", len(resp.Body)), zap.Bool("reused", reused))
	if resp.ExpectClose || private {
		_ = lease.Discard()
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, req *Request, lease *Lease, private bool) (*hwire.Message, error) {
	header, body := c.requestHeader(req, private)
	expect := header.Has("Expect")

	target := req.URL.RequestURI()
	if c.config.Proxy != nil && req.URL.Scheme == "http" {
		abs := *req.URL
		abs.Fragment = ""
		target = abs.String()
	}

	if err := writeDeadline(ctx, lease.conn, req.Timeout); err != nil {
		return nil, err
	}
	if err := hwire.WriteRequestHead(lease.conn, req.Method, target, &header); err != nil {
		return nil, err
	}

	lim := req.limits()
	interim := 0
	if expect {
		contLim := lim
		contLim.Timeout = c.config.ContinueTimeout
	await:
		for {
			resp, err := lease.reader.ReadResponse(req.Method, contLim)
			switch {
			case errors.Is(err, os.ErrDeadlineExceeded) && ctx.Err() == nil:
				return nil, ErrNoContinue
			case err != nil:
				return nil, err
			case resp.Code == http.StatusContinue:
				break await
			case resp.Code >= http.StatusOK || resp.Code == http.StatusSwitchingProtocols:
				// final status without the body sent: the connection is out of sync
				resp.ExpectClose = true
				return resp, nil
			}
			if interim++; interim == maxInterim {
				return nil, ErrInterimLoop
			}
		}
	}

	if len(body) > 0 {
		if err := writeDeadline(ctx, lease.conn, req.Timeout); err != nil {
			return nil, err
		}
		if _, err := lease.conn.Write(body); err != nil {
			return nil, err
		}
	}

	for {
		resp, err := lease.reader.ReadResponse(req.Method, lim)
		if err != nil {
			return nil, err
		}
		if resp.Code >= http.StatusOK || resp.Code == http.StatusSwitchingProtocols {
			return resp, nil
		}
		if interim++; interim == maxInterim {
			return nil, ErrInterimLoop
		}
	}
}

// writeDeadline bounds the next write by timeout. A deadline set once ctx is
// closed would undo the one set on cancellation, hence the check after it.
func writeDeadline(ctx context.Context, conn net.Conn, timeout time.Duration) error {
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return ctx.Err()
}

// requestHeader builds the header actually sent, and the body in its wire
// form
func (c *Client) requestHeader(req *Request, private bool) (hwire.Header, []byte) {
	var h hwire.Header
	h.Set("Host", req.URL.Host)
	for _, name := range req.Header.Names() {
		switch name {
		case "Host", "Content-Length", "Connection", "Expect":
			continue
		}
		h.Set(name, req.Header.Get(name))
	}
	if !h.Has("User-Agent") {
		h.Set("User-Agent", c.config.UserAgent)
	}
	if !h.Has("Accept-Encoding") {
		if req.Decompress {
			h.Set("Accept-Encoding", "gzip, deflate")
		} else {
			h.Set("Accept-Encoding", "identity")
		}
	}

	body := req.Body
	switch {
	case h.HasToken("Transfer-Encoding", "chunked"):
		body = hwire.Chunked(body)
	case body != nil || req.Method == http.MethodPost || req.Method == http.MethodPut || req.Method == http.MethodPatch || req.Method == http.MethodDelete:
		h.Set("Content-Length", strconv.Itoa(len(body)))
	}
	if req.ExpectContinue && len(req.Body) > 0 {
		h.Set("Expect", "100-continue")
	}

	if p := c.config.Proxy; p != nil && req.URL.Scheme == "http" {
		if auth := proxyAuthorization(p.URL); auth != "" {
			h.Set("Proxy-Authorization", auth)
		}
	}
	if private {
		h.Set("Connection", "close")
	} else {
		h.Set("Connection", "keep-alive")
	}
	return h, body
}

func (c *Client) connect(ctx context.Context, u *url.URL, timeout time.Duration) (net.Conn, error) {
	target, err := hostPort(u)
	if err != nil {
		return nil, err
	}

	p := c.config.Proxy
	if p == nil {
		conn, err := c.dial(ctx, target, timeout)
		if err != nil || u.Scheme == "http" {
			return conn, err
		}
		return LayerTLS(ctx, conn, c.config.TLS, u.Hostname(), timeout)
	}

	proxyAddr, err := hostPort(p.URL)
	if err != nil {
		return nil, fmt.Errorf("bad proxy URL: %w", err)
	}
	conn, err := c.dial(ctx, proxyAddr, timeout)
	if err != nil {
		return nil, err
	}
	if p.URL.Scheme == "https" {
		if conn, err = LayerTLS(ctx, conn, p.TLS, p.URL.Hostname(), timeout); err != nil {
			return nil, err
		}
	}
	if u.Scheme == "http" {
		return conn, nil
	}
	if err := tunnel(conn, target, p.URL, timeout); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return LayerTLS(ctx, conn, c.config.TLS, u.Hostname(), timeout)
}

func (c *Client) dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := c.config.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, tnet.MaybeRetriableError(err)
	}
	return conn, nil
}

// Origin returns the scheme://host:port a URL leads to, the way leases are
// matched against requests
func Origin(u *url.URL) (string, error) {
	addr, err := hostPort(u)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + addr, nil
}

func hostPort(u *url.URL) (string, error) {
	var port string
	switch u.Scheme {
	case "http":
		port = "80"
	case "https":
		port = "443"
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if p := u.Port(); p != "" {
		port = p
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
