package tileserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/ridge/trackmap/thttp"
	"github.com/ridge/trackmap/tilesource"
	"github.com/ridge/trackmap/tlog"
	"go.uber.org/zap"
)

// tileMaxAge is how long browsers may keep tiles; the source ID in the URL
// changes whenever the tiles may
const tileMaxAge = 24 * 60 * 60

var errUnavailable = errors.New("tile unavailable")

func (s *Server) tile(w http.ResponseWriter, r *http.Request) {
	logger := tlog.Get(r.Context())
	vars := mux.Vars(r)
	id := vars["source"]
	row, errRow := strconv.Atoi(vars["row"])
	col, errCol := strconv.Atoi(vars["col"])
	if err := errors.Join(errRow, errCol); err != nil {
		thttp.JSONError(logger, w, r, err, http.StatusBadRequest)
		return
	}

	if _, active, ok := s.Active(); !ok || active != id {
		thttp.JSONError(logger, w, r, fmt.Errorf("tile source %q is not active", id), http.StatusNotFound)
		return
	}

	data, ok := s.cache.Tile(r.Context(), id, row, col)()
	if !ok {
		thttp.JSONError(logger, w, r, errUnavailable, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(tileMaxAge))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(data); err != nil {
		logger.Debug("Failed to write tile", zap.Error(err))
	}
}

type sourceInfo struct {
	Name    string `json:"name"`
	Zoom    int    `json:"zoom"`
	MinZoom int    `json:"min_zoom"`
	MaxZoom int    `json:"max_zoom"`
	Active  bool   `json:"active"`

	// Tiles is the URL template of the tiles of the active source
	Tiles string `json:"tiles,omitempty"`
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	res := make([]sourceInfo, 0, len(s.sources))
	for _, d := range s.sources {
		if s.active != nil && s.active.Descriptor().Name == d.Name {
			res = append(res, activeInfo(s.active.Descriptor(), s.id))
			continue
		}
		res = append(res, infoOf(d))
	}
	s.mu.Unlock()

	thttp.JSONResult(tlog.Get(r.Context()), w, r, res, http.StatusOK)
}

func infoOf(d tilesource.Descriptor) sourceInfo {
	info := sourceInfo{Name: d.Name, Zoom: d.Zoom, MinZoom: d.MinZoom, MaxZoom: d.MaxZoom}
	if info.MaxZoom == 0 {
		info.MaxZoom = tilesource.DefaultMaxZoom
	}
	return info
}

func activeInfo(d tilesource.Descriptor, id string) sourceInfo {
	info := infoOf(d)
	info.Active = true
	info.Tiles = "/tiles/" + id + "/{y}/{x}"
	return info
}

func (s *Server) activateSource(w http.ResponseWriter, r *http.Request) {
	logger := tlog.Get(r.Context())
	zoom := -1
	if z := r.URL.Query().Get("zoom"); z != "" {
		var err error
		if zoom, err = strconv.Atoi(z); err != nil || zoom < 0 {
			thttp.JSONError(logger, w, r, fmt.Errorf("invalid zoom %q", z), http.StatusBadRequest)
			return
		}
	}

	desc, err := s.Activate(r.Context(), mux.Vars(r)["name"], zoom)
	switch {
	case errors.Is(err, ErrUnknownSource):
		thttp.JSONError(logger, w, r, err, http.StatusNotFound)
		return
	case errors.Is(err, tilesource.ErrZoom):
		thttp.JSONError(logger, w, r, err, http.StatusBadRequest)
		return
	case err != nil:
		thttp.JSONError(logger, w, r, err, http.StatusServiceUnavailable)
		return
	}

	_, id, _ := s.Active()
	thttp.JSONResult(logger, w, r, activeInfo(desc, id), http.StatusOK)
}

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	thttp.JSONResult(tlog.Get(r.Context()), w, r, s.cache.Stats(), http.StatusOK)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := s.Active(); !ok {
		thttp.JSONError(tlog.Get(r.Context()), w, r, errors.New("no active tile source"), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}
