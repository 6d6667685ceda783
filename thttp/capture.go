package thttp

import "net/http"

// Captured is the outcome of a response as seen by Capture
type Captured struct {
	Status int   // 0 until anything is written
	Size   int64 // body bytes written
}

// Capture wraps a http.ResponseWriter to capture the response status code and
// body size into *c.
//
// The returned ResponseWriter works the same way as the original one, including
// the http.Hijacker and http.Flusher functionality, if available.
func Capture(w http.ResponseWriter, c *Captured) http.ResponseWriter {
	cw := &captureWriter{ResponseWriter: w, captured: c}
	h, hijacker := w.(http.Hijacker)
	f, flusher := w.(http.Flusher)
	switch {
	case hijacker && flusher:
		return struct {
			*captureWriter
			http.Hijacker
			http.Flusher
		}{cw, h, f}
	case hijacker:
		return struct {
			*captureWriter
			http.Hijacker
		}{cw, h}
	case flusher:
		return struct {
			*captureWriter
			http.Flusher
		}{cw, f}
	}
	return cw
}

type captureWriter struct {
	http.ResponseWriter
	captured *Captured
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.captured.Status == 0 {
		cw.captured.Status = http.StatusOK
	}
	n, err := cw.ResponseWriter.Write(b)
	cw.captured.Size += int64(n)
	return n, err
}

func (cw *captureWriter) WriteHeader(statusCode int) {
	cw.captured.Status = statusCode
	cw.ResponseWriter.WriteHeader(statusCode)
}

// Unwrap lets http.ResponseController reach the original writer
func (cw *captureWriter) Unwrap() http.ResponseWriter {
	return cw.ResponseWriter
}
