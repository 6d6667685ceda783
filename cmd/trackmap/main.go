// trackmap serves map tiles of a configurable upstream source through a
// shared in-memory cache.
//
//	trackmap --sources sources.yaml --listen :8080
//
// The sources file is reloaded when it changes and on SIGHUP.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ridge/parallel"
	"github.com/ridge/trackmap/config"
	"github.com/ridge/trackmap/hclient"
	"github.com/ridge/trackmap/run"
	"github.com/ridge/trackmap/tilecache"
	"github.com/ridge/trackmap/tileserver"
	"github.com/ridge/trackmap/tlog"
	"github.com/ridge/trackmap/tnet"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type options struct {
	listen      string
	sources     string
	proxy       string
	token       string
	capacity    int
	workers     int
	prefetch    bool
	waitTimeout time.Duration
}

func main() {
	var opts options
	pflag.StringVar(&opts.listen, "listen", ":8080", "Address to serve tiles on")
	pflag.StringVar(&opts.sources, "sources", "sources.yaml", "Tile sources file")
	pflag.StringVar(&opts.proxy, "proxy", "", "HTTP proxy for upstream requests, overrides the sources file")
	pflag.StringVar(&opts.token, "token", os.Getenv("TRACKMAP_TOKEN"), "Bearer token required to switch sources (default $TRACKMAP_TOKEN)")
	pflag.IntVar(&opts.capacity, "cache-tiles", tilecache.DefaultCapacity, "Number of tiles kept in memory")
	pflag.IntVar(&opts.workers, "workers", tilecache.DefaultWorkers, "Number of concurrent upstream fetches")
	pflag.BoolVar(&opts.prefetch, "prefetch", false, "Prefetch the diagonally adjacent tile")
	pflag.DurationVar(&opts.waitTimeout, "wait-timeout", 10*time.Second, "Maximum time a tile request waits for the upstream")
	pflag.Parse()

	run.Server(func(ctx context.Context) error {
		return serve(ctx, opts)
	})
}

func serve(ctx context.Context, opts options) error {
	logger := tlog.Get(ctx)

	cfg, err := config.Load(opts.sources)
	if err != nil {
		return err
	}
	proxy := cfg.ProxyURL()
	if opts.proxy != "" {
		if proxy, err = url.Parse(opts.proxy); err != nil {
			return fmt.Errorf("invalid --proxy: %w", err)
		}
	}
	var clientConfig hclient.Config
	if proxy != nil {
		clientConfig.Proxy = &hclient.ProxyConfig{URL: proxy}
	}

	cache := tilecache.New(ctx, tilecache.Config{
		Capacity:    opts.capacity,
		Workers:     opts.workers,
		Prefetch:    opts.prefetch,
		WaitTimeout: opts.waitTimeout,
	})
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("Failed to close tile cache", zap.Error(err))
		}
	}()

	server := tileserver.New(cache, hclient.New(clientConfig), opts.token)
	if err := server.SetSources(ctx, cfg.Sources); err != nil {
		return err
	}
	if _, err := server.Activate(ctx, cfg.Active, -1); err != nil {
		return err
	}

	listener, err := tnet.Listen(ctx, opts.listen)
	if err != nil {
		return err
	}
	watcher, err := config.NewWatcher(opts.sources)
	if err != nil {
		_ = listener.Close()
		return err
	}
	logger.Info("Serving tiles", zap.Stringer("address", listener.Addr()), zap.String("source", cfg.Active))

	reload := func(cfg *config.Config) {
		if opts.proxy == "" && cfg.Proxy != proxyString(proxy) {
			logger.Warn("Proxy change takes effect on restart", zap.String("proxy", cfg.Proxy))
		}
		if err := server.SetSources(ctx, cfg.Sources); err != nil {
			logger.Error("Failed to apply reloaded tile sources", zap.Error(err))
		}
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("server", parallel.Fail, func(ctx context.Context) error {
			return server.Run(ctx, listener)
		})
		spawn("watcher", parallel.Fail, func(ctx context.Context) error {
			return watcher.Run(ctx, reload)
		})
		spawn("reload", parallel.Fail, func(ctx context.Context) error {
			return reloadOnHangup(ctx, opts.sources, reload)
		})
		return nil
	})
}

func reloadOnHangup(ctx context.Context, path string, reload func(*config.Config)) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP)
	defer signal.Stop(signals)

	for {
		select {
		case <-signals:
			cfg, err := config.Load(path)
			if err != nil {
				tlog.Get(ctx).Warn("Failed to reload tile sources, keeping the previous ones", zap.Error(err))
				continue
			}
			tlog.Get(ctx).Info("Tile sources reloaded on SIGHUP", zap.Int("sources", len(cfg.Sources)))
			reload(cfg)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func proxyString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}
