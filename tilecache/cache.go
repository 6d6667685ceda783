// Package tilecache implements a bounded tile cache that fetches every
// missing tile exactly once, however many callers ask for it, using a fixed
// pool of workers.
package tilecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/ridge/must/v2"
	"github.com/ridge/trackmap/tlog"
	"go.uber.org/zap"
)

const (
	// DefaultCapacity is used when Config.Capacity is zero
	DefaultCapacity = 1000

	// DefaultWorkers is used when Config.Workers is zero
	DefaultWorkers = 8
)

var (
	// ErrClosed is the failure of fetches running into a closed cache
	ErrClosed = errors.New("tile cache closed")

	// ErrStale is the failure of fetches whose source is no longer active
	ErrStale = errors.New("tile source reconfigured")

	// ErrNoWorker is the failure of fetches that waited too long for a worker
	ErrNoWorker = errors.New("no idle fetch worker")
)

// Key identifies a tile
type Key struct {
	Source string // opaque identity of the source configuration
	Row    int
	Col    int
}

// Fetcher fetches tiles of one source. Each worker owns one Fetcher and never
// calls it concurrently.
type Fetcher interface {
	Fetch(ctx context.Context, row, col int) ([]byte, error)

	// Close releases the connection held by the fetcher
	Close() error
}

// BuildFunc builds the fetcher for one worker.
//
// prev is the fetcher the worker is currently idle with, or nil. The builder
// may take over the connection held by prev; the cache closes prev once the
// new configuration is in place.
type BuildFunc func(prev Fetcher) (Fetcher, error)

// Config is the cache configuration
type Config struct {
	Capacity int // maximum number of entries
	Workers  int // number of concurrent fetches

	// Prefetch makes Tile also request the diagonally adjacent tile
	Prefetch bool

	// WaitTimeout bounds the waiter returned by Tile; 0 = bounded by ctx only
	WaitTimeout time.Duration

	// ClaimTimeout bounds the wait of a fetch for an idle worker; 0 = none
	ClaimTimeout time.Duration
}

// Marker is the shared outcome of the single fetch of a tile
type Marker struct {
	done chan struct{}
	once sync.Once
	data []byte
	ok   bool
}

func newMarker() *Marker {
	return &Marker{done: make(chan struct{})}
}

// Done is closed when the fetch is over
func (m *Marker) Done() <-chan struct{} {
	return m.done
}

func (m *Marker) resolve(data []byte, ok bool) {
	m.once.Do(func() {
		m.data, m.ok = data, ok
		close(m.done)
	})
}

func (m *Marker) pending() bool {
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Stats is a snapshot of cache counters
type Stats struct {
	Source    string `json:"source"`
	Entries   int    `json:"entries"`
	Capacity  int    `json:"capacity"`
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Fetches   int64  `json:"fetches"`
	Failures  int64  `json:"failures"`
	Evictions int64  `json:"evictions"`
}

// Cache is a bounded tile cache. It must be configured with a source before
// it can fetch anything.
type Cache struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc

	closed  atomic.Bool
	closing chan struct{}
	source  atomic.Pointer[string]
	fetches sync.WaitGroup

	// bmu guards the index only; it is never held while fetching
	bmu   sync.Mutex
	index *simplelru.LRU[Key, *Marker]

	pool pool

	hits, misses, fetched, failures, evictions atomic.Int64
}

// New creates a cache. Fetches run with a context derived from ctx and are
// canceled by Close.
func New(ctx context.Context, config Config) *Cache {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Cache{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		closing: make(chan struct{}),
		index:   must.OK1(simplelru.NewLRU[Key, *Marker](config.Capacity, nil)),
	}
	c.pool.init(config.Workers)
	return c
}

// Source returns the active source identity, or "" if none
func (c *Cache) Source() string {
	if source := c.source.Load(); source != nil {
		return *source
	}
	return ""
}

// Request returns the marker of the tile, starting its fetch if the tile is
// not in the cache. Concurrent requests for a tile share one fetch.
func (c *Cache) Request(key Key) *Marker {
	c.bmu.Lock()
	if m, ok := c.index.Get(key); ok {
		c.bmu.Unlock()
		c.hits.Add(1)
		metricRequests.WithLabelValues("hit").Inc()
		return m
	}

	m := newMarker()
	if c.closed.Load() {
		c.bmu.Unlock()
		m.resolve(nil, false)
		return m
	}
	if c.index.Add(key, m) {
		c.evictions.Add(1)
		metricEvictions.Inc()
	}
	c.fetches.Add(1)
	c.bmu.Unlock()

	c.misses.Add(1)
	metricRequests.WithLabelValues("miss").Inc()
	go c.fetch(key, m)
	return m
}

// Wait waits for the marker up to timeout (0 = no timeout) and returns the
// tile. ok is false when the tile is unavailable: its fetch failed or was
// discarded, the wait timed out or ctx was closed, or the cache is closed.
func (c *Cache) Wait(ctx context.Context, m *Marker, timeout time.Duration) (data []byte, ok bool) {
	if c.closed.Load() {
		return nil, false
	}
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-m.done:
	case <-c.closing:
		return nil, false
	case <-ctx.Done():
		return nil, false
	case <-expired:
		return nil, false
	}
	if c.closed.Load() {
		return nil, false
	}
	return m.data, m.ok
}

// Tile requests a tile and returns a function waiting for it, bounded by
// Config.WaitTimeout. With prefetching enabled the tile at (row+1, col+1) is
// requested as well.
func (c *Cache) Tile(ctx context.Context, source string, row, col int) func() ([]byte, bool) {
	m := c.Request(Key{Source: source, Row: row, Col: col})
	if c.config.Prefetch {
		c.Request(Key{Source: source, Row: row + 1, Col: col + 1})
	}
	return func() ([]byte, bool) {
		return c.Wait(ctx, m, c.config.WaitTimeout)
	}
}

// Stats returns the current counters
func (c *Cache) Stats() Stats {
	c.bmu.Lock()
	entries := c.index.Len()
	c.bmu.Unlock()

	return Stats{
		Source:    c.Source(),
		Entries:   entries,
		Capacity:  c.config.Capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Fetches:   c.fetched.Load(),
		Failures:  c.failures.Load(),
		Evictions: c.evictions.Load(),
	}
}

func (c *Cache) fetch(key Key, m *Marker) {
	defer c.fetches.Done()

	data, err := c.pool.run(c, key)
	if err != nil {
		c.failures.Add(1)
		tlog.Get(c.ctx).Debug("Tile unavailable", zap.String("source", key.Source),
			zap.Int("row", key.Row), zap.Int("col", key.Col), zap.Error(err))
		c.forget(key, m)
		m.resolve(nil, false)
		return
	}
	c.fetched.Add(1)
	m.resolve(data, true)
}

// forget removes a failed entry so that the next request fetches again
func (c *Cache) forget(key Key, m *Marker) {
	c.bmu.Lock()
	defer c.bmu.Unlock()
	if cur, ok := c.index.Peek(key); ok && cur == m {
		c.index.Remove(key)
	}
}

// current reports whether fetches for source may proceed
func (c *Cache) current(source string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if cur := c.source.Load(); cur == nil || *cur != source {
		return ErrStale
	}
	return nil
}

// Close closes the cache for good: every waiter returns unavailable, pending
// fetches are canceled and every worker connection is closed
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.closing)
	c.cancel()

	c.bmu.Lock()
	for _, m := range c.index.Values() {
		if m.pending() {
			m.resolve(nil, false)
		}
	}
	c.index.Purge()
	c.bmu.Unlock()

	err := c.pool.close()
	c.fetches.Wait()
	tlog.Get(c.ctx).Info("Tile cache closed", zap.Int64("fetches", c.fetched.Load()), zap.Int64("failures", c.failures.Load()))
	return err
}
