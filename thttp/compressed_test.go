package thttp

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/ridge/must/v2"
	"github.com/ridge/trackmap/test"
	"github.com/ridge/trackmap/tlog"
	"github.com/stretchr/testify/require"
)

func TestShouldGzip(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.False(t, ShouldGzip(r))
	r.Header.Set("Accept-Encoding", "gzip, deflate")
	require.True(t, ShouldGzip(r))
	r.Header.Set("Accept-Encoding", "br")
	require.False(t, ShouldGzip(r))
}

func TestJSONResult(t *testing.T) {
	ctx := test.Context(t)
	type item struct {
		Name string `json:"name"`
	}
	small := []item{{Name: "osm"}}
	large := make([]item, 100)
	for i := range large {
		large[i].Name = strings.Repeat("x", 10)
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := small
		if r.URL.Query().Has("large") {
			res = large
		}
		JSONResult(tlog.Get(r.Context()), w, r, res, http.StatusOK)
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	res := TestCtx(ctx, handler, r)
	defer res.Body.Close()
	require.Equal(t, "application/json", res.Header.Get("Content-Type"))
	require.Empty(t, res.Header.Get("Content-Encoding"))
	require.JSONEq(t, `[{"name":"osm"}]`, string(must.OK1(io.ReadAll(res.Body))))

	r = httptest.NewRequest(http.MethodGet, "/?large", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	res = TestCtx(ctx, handler, r)
	defer res.Body.Close()
	require.Equal(t, "gzip", res.Header.Get("Content-Encoding"))
	zr, err := gzip.NewReader(res.Body)
	require.NoError(t, err)
	body := must.OK1(io.ReadAll(zr))
	require.True(t, strings.HasPrefix(string(body), `[{"name":"xxxxxxxxxx"}`))
}
