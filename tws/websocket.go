// Package tws runs message sessions over WebSocket connections.
package tws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/ridge/parallel"
	"github.com/ridge/trackmap/thttp"
	"github.com/ridge/trackmap/tlog"
	"go.uber.org/zap"
)

// Config is the WebSocket configuration
type Config struct {
	HandshakeTimeout time.Duration

	// TCPTimeout drops the connection when sent data stays unacknowledged
	// this long; 0 keeps the kernel default
	TCPTimeout time.Duration

	// PingInterval is the period of pings; 0 disables them
	PingInterval time.Duration

	// RequirePong drops the connection when a pong misses a ping period
	RequirePong bool

	// CheckOrigin accepts the Origin of a request to serve; nil accepts only
	// same-origin requests
	CheckOrigin func(r *http.Request) bool
}

// DefaultConfig is the default Config value
var DefaultConfig = Config{
	HandshakeTimeout: 5 * time.Second,
	TCPTimeout:       30 * time.Second,
	PingInterval:     30 * time.Second,
	RequirePong:      true,
}

// Message is a WebSocket data message
type Message struct {
	Binary bool
	Data   []byte
}

// JSONMessage returns a text message with v encoded as JSON
func JSONMessage(v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Data: data}, nil
}

// SessionFn is the conversation held over a connection.
//
// Incoming messages arrive through incoming, which is closed together with
// ctx when the connection breaks. When the function returns, outgoing is
// flushed and the connection closed.
type SessionFn func(ctx context.Context, incoming <-chan Message, outgoing chan<- Message) error

// Serve upgrades the request to WebSocket and runs the session on it. The
// session context is derived from the request context.
func Serve(w http.ResponseWriter, r *http.Request, config Config, sessionFn SessionFn) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout: config.HandshakeTimeout,
		CheckOrigin:      config.CheckOrigin,
	}
	logger := tlog.Get(r.Context())

	// the response headers set so far, the request ID among them, go with the upgrade
	ws, err := upgrader.Upgrade(w, r, w.Header().Clone())
	if err != nil {
		logger.Warn("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}
	if err := tuneTCP(ws.UnderlyingConn(), config); err != nil {
		_ = ws.Close()
		logger.Error("Failed to set up WebSocket connection", zap.Error(err))
		return
	}

	err = handleSession(r.Context(), ws, config, sessionFn)
	logger.Info("WebSocket disconnected", zap.Error(err))
}

// Dial connects to a WebSocket server and runs the session on the connection
func Dial(ctx context.Context, url string, header http.Header, config Config, sessionFn SessionFn) error {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if err := tuneTCP(conn, config); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		},
		HandshakeTimeout: config.HandshakeTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return fmt.Errorf("failed to connect to %s (%s): %w", url, resp.Status, err)
		}
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	ctx = tlog.With(ctx, zap.String("url", url), zap.String("requestID", resp.Header.Get(thttp.RequestIDHeader)))
	return handleSession(ctx, ws, config, sessionFn)
}

func handleSession(ctx context.Context, ws *websocket.Conn, config Config, sessionFn SessionFn) error {
	tlog.Get(ctx).Debug("WebSocket established")

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		var unanswered atomic.Int64 // pings sent minus pongs received
		incoming := make(chan Message)
		outgoing := make(chan Message)

		if config.RequirePong {
			ws.SetPongHandler(func(string) error {
				unanswered.Add(-1)
				return nil
			})
		}

		spawn("session", parallel.Continue, func(ctx context.Context) error {
			defer close(outgoing)
			return sessionFn(ctx, incoming, outgoing)
		})

		spawn("receiver", parallel.Continue, func(ctx context.Context) error {
			defer close(incoming)
			for {
				mt, data, err := ws.ReadMessage()
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					var closeErr *websocket.CloseError
					if errors.As(err, &closeErr) {
						return nil
					}
					return err
				}
				if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
					return fmt.Errorf("unexpected WebSocket message type %d", mt)
				}
				select {
				case incoming <- Message{Binary: mt == websocket.BinaryMessage, Data: data}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})

		// the connection allows a single writer, so pings go through the sender
		spawn("sender", parallel.Exit, func(ctx context.Context) error {
			var ticks <-chan time.Time
			if config.PingInterval != 0 {
				ticker := time.NewTicker(config.PingInterval)
				defer ticker.Stop()
				ticks = ticker.C
			}
			for {
				select {
				case msg, ok := <-outgoing:
					if !ok {
						// the peer may be gone already
						_ = ws.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
						return nil
					}
					mt := websocket.TextMessage
					if msg.Binary {
						mt = websocket.BinaryMessage
					}
					if err := ws.WriteMessage(mt, msg.Data); err != nil {
						return err
					}
				case <-ticks:
					if config.RequirePong && unanswered.Add(1) > 1 {
						return errors.New("WebSocket ping timeout")
					}
					if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
						return err
					}
				}
			}
		})

		spawn("closer", parallel.Exit, func(ctx context.Context) error {
			<-ctx.Done()
			// a peer closing a TLS connection first makes Close fail this way
			if err := ws.Close(); err != nil && !strings.Contains(err.Error(), "failed to send closeNotify alert") {
				return err
			}
			return ctx.Err()
		})

		return nil
	})
}

// WithWSScheme changes http to ws and https to wss
func WithWSScheme(addr string) string {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		panic("no scheme in address")
	}
	return strings.Replace(addr, "http", "ws", 1)
}
