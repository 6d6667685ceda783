package thttp

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ridge/trackmap/tlog"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request ID assigned by Log
const RequestIDHeader = "X-Request-Id"

// Log is a middleware that logs before and after handling of each request.
// Does not include logging of request and response bodies.
//
// Every request gets an ID, taken from the X-Request-Id header when the client
// supplies a valid UUID, which is added to the logger and echoed in the
// response.
func Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		id, err := uuid.Parse(r.Header.Get(RequestIDHeader))
		if err != nil {
			id = uuid.New()
		}
		w.Header().Set(RequestIDHeader, id.String())

		ctx := tlog.With(r.Context(),
			zap.Stringer("requestID", id),
			zap.String("method", r.Method),
			zap.String("hostname", r.Host),
			zap.String("url", r.URL.String()),
		)
		logger := tlog.Get(ctx)
		logger.Debug("HTTP request handling started")
		var result Captured
		next.ServeHTTP(Capture(w, &result), r.WithContext(ctx))
		logger.Debug("HTTP request handling ended", zap.Int("statusCode", result.Status),
			zap.Int64("size", result.Size), zap.Duration("elapsed", time.Since(started)))
	})
}
