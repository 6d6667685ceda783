package tilecache

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ridge/parallel"
	"github.com/ridge/trackmap/tlog"
	"go.uber.org/zap"
)

type worker struct {
	busy    bool
	fetcher Fetcher

	// next replaces fetcher when a busy worker is checked in after a
	// reconfiguration
	next Fetcher
}

// pool is a fixed set of workers. A fetch checks a worker out, uses its
// fetcher and checks it in.
type pool struct {
	mu      sync.Mutex
	workers []worker
	gen     uint64
	wake    chan struct{} // closed and replaced whenever a worker may have become usable
}

func (p *pool) init(n int) {
	p.workers = make([]worker, n)
	p.wake = make(chan struct{})
}

// broadcast must be called with mu held
func (p *pool) broadcast() {
	close(p.wake)
	p.wake = make(chan struct{})
}

// checkOut claims an idle worker for a fetch from source
func (p *pool) checkOut(c *Cache, source string) (int, Fetcher, error) {
	var expired <-chan time.Time
	if c.config.ClaimTimeout > 0 {
		timer := time.NewTimer(c.config.ClaimTimeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		p.mu.Lock()
		if err := c.current(source); err != nil {
			p.mu.Unlock()
			return 0, nil, err
		}
		for i := range p.workers {
			if w := &p.workers[i]; !w.busy && w.fetcher != nil {
				w.busy = true
				p.mu.Unlock()
				metricBusyWorkers.Inc()
				return i, w.fetcher, nil
			}
		}
		wake := p.wake
		p.mu.Unlock()

		select {
		case <-wake:
		case <-expired:
			return 0, nil, ErrNoWorker
		}
	}
}

// checkIn returns a worker to the pool, replacing its fetcher if the pool
// was reconfigured or closed meanwhile
func (p *pool) checkIn(c *Cache, i int) {
	p.mu.Lock()
	w := &p.workers[i]
	w.busy = false
	var stale []Fetcher
	switch {
	case c.closed.Load():
		stale = append(stale, w.fetcher, w.next)
		w.fetcher, w.next = nil, nil
	case w.next != nil:
		stale = append(stale, w.fetcher)
		w.fetcher, w.next = w.next, nil
	}
	p.broadcast()
	p.mu.Unlock()
	metricBusyWorkers.Dec()

	for _, f := range stale {
		if f != nil {
			_ = f.Close()
		}
	}
}

// run fetches one tile on a worker
func (p *pool) run(c *Cache, key Key) ([]byte, error) {
	i, fetcher, err := p.checkOut(c, key.Source)
	if err != nil {
		return nil, err
	}
	defer p.checkIn(c, i)

	started := time.Now()
	data, err := invoke(c, fetcher, key)
	metricFetchDuration.Observe(time.Since(started).Seconds())

	var panicErr parallel.ErrPanic
	switch {
	case errors.As(err, &panicErr):
		metricFetches.WithLabelValues(outcomePanicked).Inc()
		tlog.Get(c.ctx).Error("Tile fetch panicked", zap.Error(err), zap.ByteString("stack", panicErr.Stack))
		return nil, err
	case err != nil:
		metricFetches.WithLabelValues(outcomeFailed).Inc()
		return nil, err
	}
	if err := c.current(key.Source); err != nil {
		metricFetches.WithLabelValues(outcomeStale).Inc()
		return nil, err
	}
	metricFetches.WithLabelValues(outcomeOK).Inc()
	return data, nil
}

func invoke(c *Cache, fetcher Fetcher, key Key) (data []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = parallel.ErrPanic{Value: p, Stack: debug.Stack()}
		}
	}()
	return fetcher.Fetch(c.ctx, key.Row, key.Col)
}

// Configure makes source the active source, with worker fetchers made by
// build.
//
// Idle workers switch to their new fetchers at once, busy ones when their
// current fetch is over. Fetches for any other source fail from now on.
// If build fails for any worker, the fetchers built so far are closed, the
// previous configuration stays in place and false is returned.
func (c *Cache) Configure(source string, build BuildFunc) bool {
	logger := tlog.Get(c.ctx).With(zap.String("source", source))
	stale, ok := c.pool.configure(c, source, build, logger)
	for _, f := range stale {
		if err := f.Close(); err != nil {
			logger.Debug("Failed to close previous fetcher", zap.Error(err))
		}
	}
	return ok
}

// configure swaps the fetchers and returns the ones to close
func (p *pool) configure(c *Cache, source string, build BuildFunc, logger *zap.Logger) ([]Fetcher, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.closed.Load() {
		logger.Warn("Cannot configure closed tile cache")
		return nil, false
	}

	built := make([]Fetcher, len(p.workers))
	for i := range p.workers {
		var prev Fetcher
		if w := &p.workers[i]; !w.busy {
			prev = w.fetcher
		}
		f, err := build(prev)
		if err == nil && f == nil {
			err = errors.New("no fetcher built")
		}
		if err != nil {
			logger.Error("Failed to configure tile source", zap.Int("worker", i), zap.Error(err))
			return built[:i], false
		}
		built[i] = f
	}

	p.gen++
	var stale []Fetcher
	for i := range p.workers {
		w := &p.workers[i]
		if w.busy {
			if w.next != nil {
				stale = append(stale, w.next)
			}
			w.next = built[i]
			continue
		}
		if w.fetcher != nil {
			stale = append(stale, w.fetcher)
		}
		w.fetcher = built[i]
	}
	c.source.Store(&source)
	p.broadcast()

	logger.Info("Tile source configured", zap.Uint64("generation", p.gen), zap.Int("workers", len(built)))
	return stale, true
}

// close closes idle workers; busy ones are closed when checked in
func (p *pool) close() error {
	p.mu.Lock()
	var idle []Fetcher
	for i := range p.workers {
		w := &p.workers[i]
		if w.busy {
			continue
		}
		if w.fetcher != nil {
			idle = append(idle, w.fetcher)
		}
		if w.next != nil {
			idle = append(idle, w.next)
		}
		w.fetcher, w.next = nil, nil
	}
	p.broadcast()
	p.mu.Unlock()

	var errs []error
	for i, f := range idle {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close fetcher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
