package thttp

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/ridge/must/v2"
	"github.com/ridge/trackmap/tlog"
	"go.uber.org/zap"
)

const maxLogBodyLen = 1024 - 3 // make room for 3 dots

// LogBodies is a middleware that logs request and response bodies.
//
// Only has an effect when debug logging is enabled.
func LogBodies(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logger := tlog.Get(req.Context())
		if !logger.Core().Enabled(zap.DebugLevel) {
			next.ServeHTTP(w, req)
			return
		}

		if shouldLogBody(req.Header) {
			req.Body = createReadCloserCapture(req.Body, func(p []byte, _ bool) {
				logger.Debug("HTTP request body", zap.String("contentType", contentType(req.Header)), zap.ByteString("requestData", p))
			})
		}

		crw := &captureResponseWriter{ResponseWriter: w}
		if h, ok := w.(http.Hijacker); ok {
			crw.Hijacker = h
		}
		next.ServeHTTP(crw, req)
		if shouldLogBody(crw.ResponseWriter.Header()) {
			logger.Debug("HTTP response body", zap.String("contentType", contentType(crw.ResponseWriter.Header())), zap.ByteString("body", crw.buff.Bytes()))
		}
	})
}

func contentType(header http.Header) string {
	return strings.TrimSpace(strings.ToLower(header.Get("Content-Type")))
}

// tiles and other binary payloads are not worth logging
func shouldLogBody(header http.Header) bool {
	ct := contentType(header)
	return ct != "application/octet-stream" && !strings.HasPrefix(ct, "image/") && header.Get("Content-Encoding") == ""
}

type captureReadCloser struct {
	rc   io.ReadCloser
	buff bytes.Buffer
	done func([]byte, bool)
}

func createReadCloserCapture(rc io.ReadCloser, done func([]byte, bool)) *captureReadCloser {
	if rc == nil {
		rc = http.NoBody
	}

	var captured bool
	doneOnce := func(p []byte, eof bool) {
		if captured {
			return
		}
		captured = true
		done(p, eof)
	}

	return &captureReadCloser{rc: rc, done: doneOnce}
}

func appendToBuffer(buff *bytes.Buffer, p []byte, n int) {
	remaining := maxLogBodyLen - buff.Len()
	if n == 0 || remaining <= 0 {
		return
	}
	if n > remaining {
		must.OK1(buff.Write(p[:remaining])) // must is safe because buffer.Write() always returns nil
		must.OK1(buff.WriteString("..."))
	} else {
		must.OK1(buff.Write(p[:n]))
	}
}

func (crc *captureReadCloser) Read(p []byte) (int, error) {
	n, err := crc.rc.Read(p)
	appendToBuffer(&crc.buff, p, n)
	if errors.Is(err, io.EOF) {
		crc.done(crc.buff.Bytes(), true)
	}
	return n, err
}

func (crc *captureReadCloser) Close() error {
	crc.done(crc.buff.Bytes(), false)
	return crc.rc.Close()
}

type captureResponseWriter struct {
	http.ResponseWriter
	http.Hijacker
	buff bytes.Buffer
}

func (crw *captureResponseWriter) Write(p []byte) (int, error) {
	n, err := crw.ResponseWriter.Write(p)
	appendToBuffer(&crw.buff, p, n)
	return n, err
}

// JSONResult writes HTTP status code and JSON, compressed if the client
// accepts gzip
func JSONResult(logger *zap.Logger, w http.ResponseWriter, r *http.Request, res any, code int) {
	body := must.OK1(json.Marshal(res))
	w.Header().Set("Content-Type", "application/json")
	WriteBody(logger, w, r, code, body)
}

// ErrorResult is the JSON body of error responses
type ErrorResult struct {
	Error string `json:"error"`
}

// JSONError writes HTTP status code and an ErrorResult
func JSONError(logger *zap.Logger, w http.ResponseWriter, r *http.Request, err error, code int) {
	logger.Debug("HTTP request failed", zap.Int("statusCode", code), zap.Error(err))
	JSONResult(logger, w, r, ErrorResult{Error: err.Error()}, code)
}
