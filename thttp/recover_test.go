package thttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ridge/must/v2"
	"github.com/ridge/parallel"
	"github.com/ridge/trackmap/test"
	"github.com/ridge/trackmap/tnet"
	"github.com/stretchr/testify/require"
)

var errBrokenTile = errors.New("broken tile")

func brokenTileHandler(w http.ResponseWriter, r *http.Request) {
	panic(errBrokenTile)
}

func TestRecoverStopsServer(t *testing.T) {
	group := test.Group(t)

	server := NewServer(tnet.ListenOnRandomPort(), Recover(http.HandlerFunc(brokenTileHandler)))
	serverErr := make(chan error, 1)
	group.Spawn("server", parallel.Continue, func(ctx context.Context) error {
		serverErr <- server.Run(ctx)
		return nil
	})

	req := must.OK1(http.NewRequestWithContext(group.Context(), http.MethodGet, "http://"+server.ListenAddr().String()+"/tiles/osm/1/1", nil))
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
	require.Empty(t, must.OK1(io.ReadAll(res.Body)))

	err = <-serverErr
	require.EqualError(t, err, "panic: broken tile")
	var errPanic parallel.ErrPanic
	require.ErrorAs(t, err, &errPanic)
	require.Equal(t, errBrokenTile, errPanic.Value)
	// the stack is the one of the panic, not of the recovery
	require.Regexp(t, "(?s)^goroutine.*brokenTileHandler", string(errPanic.Stack))
}

func TestRecoverWithoutServer(t *testing.T) {
	res := TestCtx(test.Context(t), Recover(http.HandlerFunc(brokenTileHandler)), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)
}
