package tilesource

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"slices"
	"sync/atomic"
	"time"

	"github.com/ridge/trackmap/hclient"
	"github.com/ridge/trackmap/hwire"
	"github.com/ridge/trackmap/tilecache"
	"github.com/ridge/trackmap/tlog"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrNotFound is returned for tiles the source does not have
	ErrNotFound = errors.New("tile not found")

	// ErrStatus is returned for unexpected upstream response codes
	ErrStatus = errors.New("unexpected response status")

	// ErrOutOfRange is returned for tiles outside of the grid at the zoom level
	ErrOutOfRange = errors.New("tile out of range")
)

// Source is a configured tile source shared by the fetchers of all workers
type Source struct {
	desc    Descriptor
	client  *hclient.Client
	header  hwire.Header
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	built   atomic.Uint64
}

// New creates a source. The descriptor must be valid.
func New(ctx context.Context, desc Descriptor, client *hclient.Client) (*Source, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if desc.MaxSize == 0 {
		desc.MaxSize = DefaultMaxSize
	}

	limit, burst := rate.Inf, desc.Burst
	if desc.Rate > 0 {
		limit = rate.Limit(desc.Rate)
		burst = max(burst, 1)
	}

	s := &Source{
		desc:    desc,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
	}
	names := make([]string, 0, len(desc.Headers))
	for name := range desc.Headers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		s.header.Set(name, desc.Headers[name])
	}

	logger := tlog.Get(ctx).With(zap.String("source", desc.Name))
	metricBreakerState.WithLabelValues(desc.Name).Set(stateValue(gobreaker.StateClosed))
	s.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        desc.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrOutOfRange) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Tile source circuit breaker state changed", zap.Stringer("from", from), zap.Stringer("to", to))
			metricBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return s, nil
}

// Descriptor returns the source descriptor
func (s *Source) Descriptor() Descriptor {
	return s.desc
}

// ID returns the descriptor ID
func (s *Source) ID() string {
	return s.desc.ID()
}

// Build makes the fetcher of one cache worker; it implements
// tilecache.BuildFunc.
//
// Fetchers take the subdomains in turn. A fetcher takes over the connection
// of prev when it leads to the same origin through the same client.
func (s *Source) Build(prev tilecache.Fetcher) (tilecache.Fetcher, error) {
	var sub string
	if n := len(s.desc.Subdomains); n > 0 {
		sub = s.desc.Subdomains[(s.built.Add(1)-1)%uint64(n)]
	}
	u, err := url.Parse(s.desc.TileURL(s.desc.Zoom, 0, 0, sub))
	if err != nil {
		return nil, err
	}
	origin, err := hclient.Origin(u)
	if err != nil {
		return nil, err
	}

	f := &Fetcher{source: s, subdomain: sub, origin: origin, lease: &hclient.Lease{}}
	if p, ok := prev.(*Fetcher); ok && p.source.client == s.client && p.lease.Held() && p.lease.Origin() == origin {
		f.lease = p.lease.Take()
	}
	return f, nil
}

// Info describes a fetched tile
type Info struct {
	Source      string `json:"source"`
	Zoom        int    `json:"zoom"`
	Row         int    `json:"row"`
	Col         int    `json:"col"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// Tile is a fetched tile
type Tile struct {
	Info
	Data []byte
}

// Fetcher fetches tiles of a source over a single connection. It is not safe
// for concurrent use.
type Fetcher struct {
	source    *Source
	subdomain string
	origin    string
	lease     *hclient.Lease
}

// Origin returns the scheme://host:port the fetcher connects to
func (f *Fetcher) Origin() string {
	return f.origin
}

// Fetch implements tilecache.Fetcher
func (f *Fetcher) Fetch(ctx context.Context, row, col int) ([]byte, error) {
	tile, err := f.FetchTile(ctx, row, col)
	return tile.Data, err
}

// FetchTile fetches the tile at row (y) and col (x) of the source zoom level
func (f *Fetcher) FetchTile(ctx context.Context, row, col int) (Tile, error) {
	s := f.source
	info := Info{Source: s.desc.Name, Zoom: s.desc.Zoom, Row: row, Col: col}
	if n := 1 << s.desc.Zoom; row < 0 || col < 0 || row >= n || col >= n {
		return Tile{Info: info}, fmt.Errorf("%w: %d/%d/%d", ErrOutOfRange, s.desc.Zoom, col, row)
	}
	info.URL = s.desc.TileURL(s.desc.Zoom, col, row, f.subdomain)
	target, err := url.Parse(info.URL)
	if err != nil {
		return Tile{Info: info}, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return Tile{Info: info}, err
	}
	data, err := s.breaker.Execute(func() ([]byte, error) {
		resp, err := s.client.Do(ctx, hclient.Request{
			URL:        target,
			Header:     s.header,
			Timeout:    s.desc.Timeout,
			MaxSize:    s.desc.MaxSize,
			Decompress: true,
		}, f.lease)
		if err != nil {
			return nil, err
		}
		switch resp.Code {
		case http.StatusOK:
		case http.StatusNotFound, http.StatusNoContent:
			return nil, ErrNotFound
		default:
			return nil, fmt.Errorf("%w: %d %s", ErrStatus, resp.Code, resp.Reason)
		}
		info.ContentType = resp.Header.Get("Content-Type")
		return resp.Body, nil
	})

	switch {
	case err == nil:
		metricRequests.WithLabelValues(s.desc.Name, resultOK).Inc()
		return Tile{Info: info, Data: data}, nil
	case errors.Is(err, ErrNotFound):
		metricRequests.WithLabelValues(s.desc.Name, resultNotFound).Inc()
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metricRequests.WithLabelValues(s.desc.Name, resultRejected).Inc()
	default:
		metricRequests.WithLabelValues(s.desc.Name, resultFailed).Inc()
	}
	return Tile{Info: info}, fmt.Errorf("failed to fetch tile %s: %w", info.URL, err)
}

// FetchLatLon fetches the tile holding a point
func (f *Fetcher) FetchLatLon(ctx context.Context, lat, lon float64) (Tile, error) {
	x, y := TileOf(f.source.desc.Zoom, lat, lon)
	return f.FetchTile(ctx, y, x)
}

// Box iterates over the tiles of rows [minRow, maxRow] and columns [minCol,
// maxCol], row by row, fetching each tile when reached. Each iteration starts
// over. Failed tiles are yielded with their error; iteration stops early when
// ctx is closed.
func (f *Fetcher) Box(ctx context.Context, minRow, minCol, maxRow, maxCol int) iter.Seq2[Tile, error] {
	return func(yield func(Tile, error) bool) {
		for row := minRow; row <= maxRow; row++ {
			for col := minCol; col <= maxCol; col++ {
				if ctx.Err() != nil {
					return
				}
				if !yield(f.FetchTile(ctx, row, col)) {
					return
				}
			}
		}
	}
}

// Close closes the connection of the fetcher, if any
func (f *Fetcher) Close() error {
	return f.lease.Discard()
}
