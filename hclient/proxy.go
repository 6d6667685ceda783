package hclient

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ridge/trackmap/hwire"
)

// tunnel asks the proxy on conn to open a tunnel to target
func tunnel(conn net.Conn, target string, proxy *url.URL, timeout time.Duration) error {
	var h hwire.Header
	h.Set("Host", target)
	if auth := proxyAuthorization(proxy); auth != "" {
		h.Set("Proxy-Authorization", auth)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if err := hwire.WriteRequestHead(conn, http.MethodConnect, target, &h); err != nil {
		return err
	}

	r := hwire.NewReader(conn)
	resp, err := r.ReadResponse(http.MethodConnect, hwire.Limits{Timeout: timeout})
	if err != nil {
		return fmt.Errorf("failed to read CONNECT response: %w", err)
	}
	if resp.Code != http.StatusOK && resp.Code != http.StatusNoContent {
		return fmt.Errorf("%w: %s: %s", ErrProxyRefused, target, resp)
	}
	if r.Buffered() > 0 {
		return fmt.Errorf("%w: unexpected data after CONNECT response", hwire.ErrMalformed)
	}
	return conn.SetDeadline(time.Time{})
}

func proxyAuthorization(proxy *url.URL) string {
	if proxy.User == nil {
		return ""
	}
	password, _ := proxy.User.Password()
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(proxy.User.Username()+":"+password))
}
