package thttp

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/kevinpollet/nego"
	"github.com/klauspost/compress/gzip"
	"github.com/ridge/must/v2"
	"go.uber.org/zap"
)

// minGzipSize is the smallest body worth compressing
const minGzipSize = 512

func gzipCompress(data []byte) []byte {
	var compressed bytes.Buffer
	compressor := gzip.NewWriter(&compressed)
	must.OK1(compressor.Write(data)) // writes to a bytes.Buffer never fail
	must.OK(compressor.Close())
	return compressed.Bytes()
}

// ShouldGzip returns if gzip-compression is asked for in HTTP request
func ShouldGzip(r *http.Request) bool {
	// nego.NegotiateContentEncoding(r, "gzip") returns "gzip"
	// if there is no "Accept-Encoding" header there. Guard against it.
	return r.Header.Get("Accept-Encoding") != "" && nego.NegotiateContentEncoding(r, "gzip") == "gzip"
}

// WriteBody writes a complete response, gzip-compressed when the client
// accepts it and the body is large enough to gain from it. Content-Type is
// kept as set by the caller.
func WriteBody(logger *zap.Logger, w http.ResponseWriter, r *http.Request, code int, body []byte) {
	w.Header().Add("Vary", "Accept-Encoding")
	if len(body) >= minGzipSize && ShouldGzip(r) {
		body = gzipCompress(body)
		w.Header().Set("Content-Encoding", "gzip")
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(code)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(body); err != nil {
		logger.Debug("Failed to write response to client", zap.Error(err))
	}
}
