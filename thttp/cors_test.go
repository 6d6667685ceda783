package thttp

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ridge/must/v2"
	"github.com/stretchr/testify/require"
)

func TestCORSPreflight(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight request reached the handler")
	}))

	r := httptest.NewRequest(http.MethodOptions, "/api/sources/osm", nil)
	r.Header.Set("Origin", "file://")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	r.Header.Set("Access-Control-Request-Headers", "Authorization")
	res := Test(handler, r)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "Authorization", res.Header.Get("Access-Control-Allow-Headers"))
	require.Empty(t, must.OK1(io.ReadAll(res.Body)))
}

func TestCORSTile(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tile"))
	}))

	r := httptest.NewRequest(http.MethodGet, "/tiles/osm@14.1/5/7", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	res := Test(handler, r)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, strings.Join(exposedHeaders, ","), strings.Join(res.Header["Access-Control-Expose-Headers"], ","))
	require.Equal(t, "tile", string(must.OK1(io.ReadAll(res.Body))))
}
