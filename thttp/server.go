package thttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ridge/must/v2"
	"github.com/ridge/parallel"
	"github.com/ridge/trackmap/tlog"
	"go.uber.org/zap"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
	readHeaderTimeout       = 10 * time.Second
)

// Server wraps an HTTP server
type Server struct {
	listener net.Listener
	handler  http.Handler
	running  sync.WaitGroup
}

// NewServer creates a Server
func NewServer(listener net.Listener, handler http.Handler) *Server {
	return &Server{
		listener: listener,
		handler:  handler,
	}
}

type panicKeyType int

const panicKey panicKeyType = iota

// Run serves requests until the context is closed, then performs graceful
// shutdown for up to gracefulShutdownTimeout.
//
// A panic in a handler wrapped with Recover terminates Run with the
// parallel.ErrPanic.
func (s *Server) Run(ctx context.Context) error {
	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		panicChan := make(chan error, 1)
		ctx = context.WithValue(ctx, panicKey, panicChan)
		ctx = tlog.With(ctx, zap.Stringer("httpServer", s.listener.Addr()))

		// requests outlive ctx by the shutdown grace period
		reqCtx, reqCancel := context.WithCancel(context.WithoutCancel(ctx))

		logger := tlog.Get(ctx)

		server := http.Server{
			Handler:           s.track(s.handler), // outermost
			ReadHeaderTimeout: readHeaderTimeout,
			ErrorLog:          must.OK1(zap.NewStdLogAt(logger, zap.WarnLevel)),
			BaseContext:       func(net.Listener) context.Context { return reqCtx },
			ConnContext:       s.connContext,
		}

		spawn("serve", parallel.Fail, func(ctx context.Context) error {
			logger.Info("Serving requests")
			err := server.Serve(s.listener)
			// http.ErrServerClosed means Shutdown was called, which only
			// happens once ctx is closed
			if errors.Is(err, http.ErrServerClosed) && ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		})

		spawn("panicHandler", parallel.Fail, func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-panicChan:
				return err
			}
		})

		spawn("shutdownHandler", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()
			logger.Info("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(reqCtx, gracefulShutdownTimeout)
			defer cancel()
			defer reqCancel()
			defer server.Close()

			// errors other than the timeout come from closing the listener
			if err := server.Shutdown(shutdownCtx); err != nil && shutdownCtx.Err() != nil {
				logger.Info("Shutdown canceled", zap.Error(err))
				return err
			}

			reqCancel() // hijacked connections are not tracked by Shutdown
			s.running.Wait()

			logger.Info("Shutdown complete")
			return ctx.Err()
		})

		return nil
	})
}

// ListenAddr returns the local address of the server's listener
func (s *Server) ListenAddr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) connContext(ctx context.Context, conn net.Conn) context.Context {
	return tlog.With(ctx, zap.Stringer("remoteAddr", conn.RemoteAddr()))
}

// track makes running handlers, including ones on hijacked connections, delay
// the end of shutdown
func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.running.Add(1)
		defer s.running.Done()
		next.ServeHTTP(w, r)
	})
}

// Wrap installs a number of middleware on HTTP handler. The first
// middleware listed will be the first one to see the request.
func Wrap(handler http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// StandardMiddleware is a composition of typically used middleware, in the
// recommended order:
//
// 1. Log (assign a request ID, log before and after the request)
// 2. Recover (catch and log panic, then shut down the server)
// 3. CORS (allow cross-origin requests)
func StandardMiddleware(next http.Handler) http.Handler {
	return Log(Recover(CORS(next)))
}
