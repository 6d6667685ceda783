package tilesource

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ridge/trackmap/hclient"
	"github.com/ridge/trackmap/test"
	"github.com/ridge/trackmap/tilecache"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"
)

type upstream struct {
	*httptest.Server
	conns    atomic.Int32
	requests atomic.Int32
	failing  atomic.Bool
}

// newUpstream serves "z/x/y" for every tile of the 4x4 grid except 0/0
func newUpstream(t *testing.T) *upstream {
	u := &upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tiles/{z}/{x}/{y}", func(w http.ResponseWriter, r *http.Request) {
		u.requests.Add(1)
		if u.failing.Load() {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("X-Api-Key") != "secret" {
			http.Error(w, "no key", http.StatusForbidden)
			return
		}
		if r.PathValue("x") == "0" && r.PathValue("y") == "0" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = io.WriteString(w, r.PathValue("z")+"/"+r.PathValue("x")+"/"+r.PathValue("y"))
	})
	u.Server = httptest.NewUnstartedServer(mux)
	u.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			u.conns.Add(1)
		}
	}
	u.Start()
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) descriptor() Descriptor {
	return Descriptor{
		Name:    "test",
		URL:     u.URL + "/tiles/{z}/{x}/{y}",
		Zoom:    2,
		Headers: map[string]string{"x-api-key": "secret"},
		Timeout: 5 * time.Second,
	}
}

func newFetcher(t *testing.T, s *Source, prev tilecache.Fetcher) *Fetcher {
	f, err := s.Build(prev)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f.(*Fetcher)
}

func TestFetchTile(t *testing.T) {
	ctx := test.Context(t)
	u := newUpstream(t)
	s, err := New(ctx, u.descriptor(), hclient.New(hclient.Config{}))
	require.NoError(t, err)
	f := newFetcher(t, s, nil)

	tile, err := f.FetchTile(ctx, 1, 3)
	require.NoError(t, err)
	require.Equal(t, "2/3/1", string(tile.Data))
	require.Equal(t, Info{
		Source:      "test",
		Zoom:        2,
		Row:         1,
		Col:         3,
		URL:         u.URL + "/tiles/2/3/1",
		ContentType: "image/png",
	}, tile.Info)

	data, err := f.Fetch(ctx, 2, 2)
	require.NoError(t, err)
	require.Equal(t, "2/2/2", string(data))
	require.EqualValues(t, 1, u.conns.Load())
}

func TestFetchErrors(t *testing.T) {
	ctx := test.Context(t)
	u := newUpstream(t)
	s, err := New(ctx, u.descriptor(), hclient.New(hclient.Config{}))
	require.NoError(t, err)
	f := newFetcher(t, s, nil)

	_, err = f.Fetch(ctx, 0, 0)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.Fetch(ctx, 4, 0)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = f.Fetch(ctx, 0, -1)
	require.ErrorIs(t, err, ErrOutOfRange)

	u.failing.Store(true)
	_, err = f.Fetch(ctx, 1, 1)
	require.ErrorIs(t, err, ErrStatus)
}

func TestBreakerOpens(t *testing.T) {
	ctx := test.Context(t)
	u := newUpstream(t)
	desc := u.descriptor()
	desc.Name = "breaker"
	s, err := New(ctx, desc, hclient.New(hclient.Config{}))
	require.NoError(t, err)
	f := newFetcher(t, s, nil)

	// not-found tiles do not count as failures
	for range 10 {
		_, err := f.Fetch(ctx, 0, 0)
		require.ErrorIs(t, err, ErrNotFound)
	}

	u.failing.Store(true)
	for range 5 {
		_, err := f.Fetch(ctx, 1, 1)
		require.ErrorIs(t, err, ErrStatus)
	}
	requests := u.requests.Load()

	_, err = f.Fetch(ctx, 1, 1)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.Equal(t, requests, u.requests.Load())
}

func TestBuildTakesOverConnection(t *testing.T) {
	ctx := test.Context(t)
	u := newUpstream(t)
	client := hclient.New(hclient.Config{})

	s1, err := New(ctx, u.descriptor(), client)
	require.NoError(t, err)
	f1 := newFetcher(t, s1, nil)
	_, err = f1.Fetch(ctx, 1, 1)
	require.NoError(t, err)

	desc, err := u.descriptor().WithZoom(3)
	require.NoError(t, err)
	s2, err := New(ctx, desc, client)
	require.NoError(t, err)
	f2 := newFetcher(t, s2, f1)
	require.False(t, f1.lease.Held())
	require.True(t, f2.lease.Held())

	data, err := f2.Fetch(ctx, 7, 7)
	require.NoError(t, err)
	require.Equal(t, "3/7/7", string(data))
	require.EqualValues(t, 1, u.conns.Load())

	// a different client never shares connections
	s3, err := New(ctx, u.descriptor(), hclient.New(hclient.Config{}))
	require.NoError(t, err)
	f3 := newFetcher(t, s3, f2)
	require.True(t, f2.lease.Held())
	require.False(t, f3.lease.Held())
}

func TestSubdomains(t *testing.T) {
	s, err := New(test.Context(t), Descriptor{
		Name:       "osm",
		URL:        "https://{s}.tile.example.com/{z}/{x}/{y}.png",
		Subdomains: []string{"a", "b"},
	}, hclient.New(hclient.Config{}))
	require.NoError(t, err)

	var origins []string
	for range 3 {
		origins = append(origins, newFetcher(t, s, nil).Origin())
	}
	require.Equal(t, []string{
		"https://a.tile.example.com:443",
		"https://b.tile.example.com:443",
		"https://a.tile.example.com:443",
	}, origins)
}

func TestFetchLatLon(t *testing.T) {
	ctx := test.Context(t)
	u := newUpstream(t)
	s, err := New(ctx, u.descriptor(), hclient.New(hclient.Config{}))
	require.NoError(t, err)

	tile, err := newFetcher(t, s, nil).FetchLatLon(ctx, -33.87, 151.21)
	require.NoError(t, err)
	require.Equal(t, 2, tile.Row)
	require.Equal(t, 3, tile.Col)
	require.Equal(t, "2/3/2", string(tile.Data))
}

func TestBox(t *testing.T) {
	ctx := test.Context(t)
	u := newUpstream(t)
	s, err := New(ctx, u.descriptor(), hclient.New(hclient.Config{}))
	require.NoError(t, err)
	box := newFetcher(t, s, nil).Box(ctx, 0, 0, 1, 1)

	var got []string
	for tile, err := range box {
		if err != nil {
			require.ErrorIs(t, err, ErrNotFound)
			got = append(got, "missing")
			continue
		}
		got = append(got, string(tile.Data))
	}
	require.Equal(t, []string{"missing", "2/1/0", "2/0/1", "2/1/1"}, got)

	// iteration starts over and stops when the consumer does
	got = nil
	for tile := range box {
		got = append(got, fmt.Sprintf("%d/%d", tile.Row, tile.Col))
		if len(got) == 2 {
			break
		}
	}
	require.Equal(t, []string{"0/0", "0/1"}, got)
	require.EqualValues(t, 6, u.requests.Load())
}

func TestRateLimit(t *testing.T) {
	ctx := test.Context(t)
	u := newUpstream(t)
	desc := u.descriptor()
	desc.Rate = 20
	s, err := New(ctx, desc, hclient.New(hclient.Config{}))
	require.NoError(t, err)
	f := newFetcher(t, s, nil)

	started := time.Now()
	for col := range 3 {
		_, err := f.Fetch(ctx, 1, col)
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, time.Since(started), 90*time.Millisecond)
}

func TestCacheWorkers(t *testing.T) {
	ctx := test.Context(t)
	u := newUpstream(t)
	s, err := New(ctx, u.descriptor(), hclient.New(hclient.Config{}))
	require.NoError(t, err)

	c := tilecache.New(ctx, tilecache.Config{Workers: 2})
	defer c.Close()
	require.True(t, c.Configure(s.ID(), s.Build))

	for row := range 4 {
		data, ok := c.Tile(ctx, s.ID(), row, 1)()
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("2/1/%d", row), string(data))
	}
	require.LessOrEqual(t, u.conns.Load(), int32(2))
}
