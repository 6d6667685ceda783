package hclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// LayerTLS starts a client TLS session over conn and completes the handshake
// within timeout (0 = bounded by ctx only).
//
// conn may itself be a *tls.Conn: the new session then runs inside the
// plaintext stream of the outer one, as needed for an HTTPS target behind an
// HTTPS proxy. On failure conn is closed.
func LayerTLS(ctx context.Context, conn net.Conn, cfg *tls.Config, serverName string, timeout time.Duration) (*tls.Conn, error) {
	if cfg == nil {
		cfg = &tls.Config{}
	} else {
		cfg = cfg.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = serverName
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tc := tls.Client(conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("TLS handshake with %s failed: %w", serverName, err)
	}
	return tc, nil
}
