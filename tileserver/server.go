// Package tileserver serves the tiles of the active source to browsers, and
// lets them list and switch sources.
package tileserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ridge/trackmap/hclient"
	"github.com/ridge/trackmap/thttp"
	"github.com/ridge/trackmap/tilecache"
	"github.com/ridge/trackmap/tilesource"
	"github.com/ridge/trackmap/tlog"
	"go.uber.org/zap"
)

var (
	// ErrUnknownSource is returned for activation of a source not configured
	ErrUnknownSource = errors.New("unknown tile source")

	// ErrNotActivated is returned when the cache rejects a new source
	ErrNotActivated = errors.New("tile source not activated")
)

// Server owns the set of configured sources and the tile cache serving the
// active one
type Server struct {
	cache  *tilecache.Cache
	client *hclient.Client
	token  string

	mu      sync.Mutex
	sources []tilesource.Descriptor
	active  *tilesource.Source
	id      string // cache identity of active
	rev     int
	changed chan struct{} // closed and replaced on every activation
}

// New creates a server. Sources must be set and one of them activated before
// any tile can be served. A non-empty token is required from clients
// switching sources.
func New(cache *tilecache.Cache, client *hclient.Client, token string) *Server {
	return &Server{cache: cache, client: client, token: token, changed: make(chan struct{})}
}

// SetSources replaces the configured sources. An active source whose
// descriptor changed is activated again at the same zoom level; one that is
// gone stays active.
func (s *Server) SetSources(ctx context.Context, sources []tilesource.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sources = append([]tilesource.Descriptor(nil), sources...)
	if s.active == nil {
		return nil
	}
	cur := s.active.Descriptor()
	desc, err := s.lookup(cur.Name)
	if err != nil {
		tlog.Get(ctx).Warn("Active tile source is no longer configured", zap.String("source", cur.Name))
		return nil
	}
	if zoomed, err := desc.WithZoom(cur.Zoom); err == nil {
		desc = zoomed
	}
	return s.activate(ctx, desc)
}

// Activate makes the named source active at the given zoom level, or at its
// configured one when zoom is negative
func (s *Server) Activate(ctx context.Context, name string, zoom int) (tilesource.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	desc, err := s.lookup(name)
	if err != nil {
		return tilesource.Descriptor{}, err
	}
	if zoom >= 0 {
		if desc, err = desc.WithZoom(zoom); err != nil {
			return tilesource.Descriptor{}, err
		}
	}
	if err := s.activate(ctx, desc); err != nil {
		return tilesource.Descriptor{}, err
	}
	return desc, nil
}

// Active returns the descriptor and the cache identity of the active source
func (s *Server) Active() (tilesource.Descriptor, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return tilesource.Descriptor{}, "", false
	}
	return s.active.Descriptor(), s.id, true
}

func (s *Server) lookup(name string) (tilesource.Descriptor, error) {
	for _, d := range s.sources {
		if d.Name == name {
			return d, nil
		}
	}
	return tilesource.Descriptor{}, fmt.Errorf("%w %q", ErrUnknownSource, name)
}

// activate must be called with mu held. The cache identity changes with
// every new descriptor, so that tiles of a reconfigured source never mix with
// the old ones.
func (s *Server) activate(ctx context.Context, desc tilesource.Descriptor) error {
	if s.active != nil && reflect.DeepEqual(s.active.Descriptor(), withDefaults(desc)) {
		return nil
	}
	src, err := tilesource.New(ctx, desc, s.client)
	if err != nil {
		return err
	}
	id := fmt.Sprintf("%s.%d", src.ID(), s.rev+1)
	if !s.cache.Configure(id, src.Build) {
		return fmt.Errorf("%w: %s", ErrNotActivated, src.ID())
	}
	s.rev++
	s.active, s.id = src, id
	close(s.changed)
	s.changed = make(chan struct{})
	tlog.Get(ctx).Info("Tile source activated", zap.String("source", desc.Name), zap.Int("zoom", desc.Zoom), zap.String("id", id))
	return nil
}

// withDefaults returns the descriptor as tilesource.New stores it
func withDefaults(desc tilesource.Descriptor) tilesource.Descriptor {
	if desc.MaxSize == 0 {
		desc.MaxSize = tilesource.DefaultMaxSize
	}
	return desc
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Path("/tiles/{source}/{row:[0-9]+}/{col:[0-9]+}").Methods(http.MethodGet, http.MethodHead).HandlerFunc(s.tile)
	router.Path("/healthz").Methods(http.MethodGet).HandlerFunc(s.health)
	router.Path("/metrics").Methods(http.MethodGet).Handler(promhttp.Handler())

	api := router.PathPrefix("/api").Subrouter()
	api.Use(thttp.LogBodies)
	api.Path("/sources").Methods(http.MethodGet).HandlerFunc(s.listSources)
	api.Path("/sources/{name}").Methods(http.MethodPost).Handler(thttp.RequireBearer(s.token)(http.HandlerFunc(s.activateSource)))
	api.Path("/cache").Methods(http.MethodGet).HandlerFunc(s.cacheStats)
	api.Path("/events").Methods(http.MethodGet).HandlerFunc(s.events)

	return thttp.StandardMiddleware(router)
}

// Run serves HTTP requests on the listener until ctx is closed
func (s *Server) Run(ctx context.Context, listener net.Listener) error {
	return thttp.NewServer(listener, s.Handler()).Run(ctx)
}
