package thttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/ridge/must/v2"
	"github.com/ridge/parallel"
	"github.com/ridge/trackmap/test"
	"github.com/ridge/trackmap/tnet"
	"github.com/stretchr/testify/require"
)

func TestServer(t *testing.T) {
	group := test.Group(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("tile " + r.URL.Path))
	})
	s := NewServer(tnet.ListenOnRandomPort(), StandardMiddleware(handler))
	group.Spawn("server", parallel.Fail, s.Run)

	res, err := http.DefaultClient.Do(must.OK1(http.NewRequestWithContext(group.Context(), http.MethodGet, "http://"+s.ListenAddr().String()+"/osm/5/7", nil)))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "image/png", res.Header.Get("Content-Type"))
	require.NotEmpty(t, res.Header.Get(RequestIDHeader))
	require.Equal(t, "tile /osm/5/7", string(must.OK1(io.ReadAll(res.Body))))
}

func TestServerShutdownWaitsForRequests(t *testing.T) {
	ctx, cancel := context.WithCancel(test.Context(t))
	defer cancel()

	entered := make(chan struct{})
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_, _ = w.Write([]byte("late tile"))
	})
	s := NewServer(tnet.ListenOnRandomPort(), handler)

	served := make(chan error, 1)
	go func() { served <- s.Run(ctx) }()

	body := make(chan string, 1)
	go func() {
		res, err := http.Get("http://" + s.ListenAddr().String())
		if err != nil {
			body <- err.Error()
			return
		}
		defer res.Body.Close()
		body <- string(must.OK1(io.ReadAll(res.Body)))
	}()

	<-entered
	cancel()
	close(release)

	test.AssertForefrontEvents(t, body, "late tile")
	err := <-served
	require.True(t, errors.Is(err, context.Canceled), "unexpected error: %v", err)
}
