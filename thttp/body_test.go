package thttp

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ridge/must/v2"
	"github.com/ridge/trackmap/tlog"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observed(level zap.AtomicLevel) (context.Context, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return tlog.WithLogger(context.Background(), zap.New(core)), logs
}

func TestLogBodies(t *testing.T) {
	ctx, logs := observed(zap.NewAtomicLevelAt(zap.DebugLevel))
	handler := LogBodies(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := must.OK1(io.ReadAll(r.Body))
		require.Equal(t, `{"zoom":12}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"osm","zoom":12}`))
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/sources/osm", strings.NewReader(`{"zoom":12}`))
	r.Header.Set("Content-Type", "application/json")
	res := TestCtx(ctx, handler, r)
	defer res.Body.Close()

	request := logs.FilterMessage("HTTP request body").All()
	require.Len(t, request, 1)
	require.Equal(t, `{"zoom":12}`, request[0].ContextMap()["requestData"])
	response := logs.FilterMessage("HTTP response body").All()
	require.Len(t, response, 1)
	require.Equal(t, `{"name":"osm","zoom":12}`, response[0].ContextMap()["body"])
}

func TestLogBodiesSkipsTiles(t *testing.T) {
	ctx, logs := observed(zap.NewAtomicLevelAt(zap.DebugLevel))
	handler := LogBodies(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG"))
	}))

	res := TestCtx(ctx, handler, httptest.NewRequest(http.MethodGet, "/tiles/osm/1/1", nil))
	defer res.Body.Close()
	require.Equal(t, "\x89PNG", string(must.OK1(io.ReadAll(res.Body))))
	require.Zero(t, logs.FilterMessage("HTTP response body").Len())
}

func TestLogBodiesNeedsDebug(t *testing.T) {
	ctx, logs := observed(zap.NewAtomicLevelAt(zap.InfoLevel))
	handler := LogBodies(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	res := TestCtx(ctx, handler, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	defer res.Body.Close()
	require.Zero(t, logs.Len())
}

func TestCaptureTruncates(t *testing.T) {
	long := bytes.Repeat([]byte{'x'}, maxLogBodyLen+100)
	var captured []byte
	crc := createReadCloserCapture(io.NopCloser(bytes.NewReader(long)), func(p []byte, eof bool) {
		require.True(t, eof)
		captured = append([]byte(nil), p...)
	})

	require.Equal(t, long, must.OK1(io.ReadAll(crc)))
	require.NoError(t, crc.Close())
	require.Len(t, captured, maxLogBodyLen+3)
	require.True(t, bytes.HasSuffix(captured, []byte("x...")))
}

func TestCaptureOnClose(t *testing.T) {
	calls := 0
	crc := createReadCloserCapture(io.NopCloser(strings.NewReader("zoom=12&name=osm")), func(p []byte, eof bool) {
		calls++
		require.False(t, eof)
		require.Equal(t, "zoom", string(p))
	})

	buf := make([]byte, 4)
	_, err := crc.Read(buf)
	require.NoError(t, err)
	require.NoError(t, crc.Close())
	require.NoError(t, crc.Close())
	require.Equal(t, 1, calls)

	// a missing body is captured as empty
	empty := createReadCloserCapture(nil, func(p []byte, eof bool) {
		require.Empty(t, p)
	})
	require.NoError(t, empty.Close())
}
