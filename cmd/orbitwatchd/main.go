// Command orbitwatchd runs the satellite tracking service: it loads the
// element catalog, keeps live positions ticking, and serves the REST
// and WebSocket API.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/orbitwatch/orbitwatch/internal/api"
	"github.com/orbitwatch/orbitwatch/internal/auth"
	"github.com/orbitwatch/orbitwatch/internal/catalog"
	"github.com/orbitwatch/orbitwatch/internal/config"
	"github.com/orbitwatch/orbitwatch/internal/metrics"
	"github.com/orbitwatch/orbitwatch/internal/orbitpath"
	"github.com/orbitwatch/orbitwatch/internal/propagation"
	"github.com/orbitwatch/orbitwatch/internal/tle"
	"github.com/orbitwatch/orbitwatch/internal/tracker"
	"github.com/orbitwatch/orbitwatch/internal/ws"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to TOML config file")
	bind := pflag.String("bind", "", "listen address, overrides config")
	pflag.Parse()

	cfg, err := loadConfig(*configPath, *bind)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := tle.NewStore()
	diskCache := tle.NewDiskCache(cfg.Elements.CacheDir, cfg.Elements.CacheMaxFiles)
	fetcher := tle.NewFetcher(cfg.Elements.SourceURL, logger, cfg.Elements.ExtraURLs...)

	if err := loadElements(ctx, store, diskCache, fetcher, logger); err != nil {
		logger.Error("no element data available from cache or network", "error", err)
		os.Exit(1)
	}

	pool := propagation.NewWorkerPool(cfg.Tracker.Workers, logger)

	hub := ws.NewHub(cfg.Stream.MaxPerIP, cfg.Server.TrustProxy, logger)
	go hub.Run(ctx)

	tr := tracker.New(store, pool, time.Duration(cfg.Tracker.IntervalSeconds)*time.Second, hub, logger)
	if cfg.Observer.Enabled {
		if err := tr.SetObserver(cfg.Observer.Latitude, cfg.Observer.Longitude, cfg.Observer.Altitude); err != nil {
			logger.Error("observer setup failed", "error", err)
			os.Exit(1)
		}
	}
	go tr.Run(ctx)

	pathCfg := orbitpath.Config{
		Step:    time.Duration(cfg.Path.StepSeconds) * time.Second,
		Periods: cfg.Path.Periods,
	}
	paths := orbitpath.NewCache(pathCfg, logger)

	mode := catalog.SingleSelect
	if cfg.Catalog.Mode == "multi" {
		mode = catalog.MultiSelect
	}
	selection := catalog.NewManager(mode, catalog.NewHTTPClient(cfg.Catalog.URL), logger)

	authCfg := auth.Config{Enabled: cfg.Server.AuthEnabled, Token: cfg.Server.AuthToken}
	srv := api.NewServer(cfg.Server.Bind, logger, authCfg, api.Deps{
		Store:     store,
		Tracker:   tr,
		Paths:     paths,
		Selection: selection,
		Stream:    hub.Handler(),
	})

	go refreshElements(ctx, store, diskCache, fetcher, time.Duration(cfg.Elements.RefreshHours)*time.Hour, logger)

	// Keep the dataset age gauge current between refreshes.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if age := store.AgeSeconds(); age >= 0 {
					metrics.SetDatasetAge(age)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server",
			"addr", cfg.Server.Bind,
			"auth_enabled", authCfg.Enabled,
			"observer_enabled", cfg.Observer.Enabled,
			"selection_mode", cfg.Catalog.Mode,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func loadConfig(path, bindOverride string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if bindOverride != "" {
		cfg.Server.Bind = bindOverride
	}
	return cfg, config.Validate(cfg)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// loadElements seeds the store at startup: newest disk cache file first,
// then a network fetch. Startup fails only when both are unavailable.
func loadElements(ctx context.Context, store *tle.Store, cache *tle.DiskCache, fetcher *tle.Fetcher, logger *slog.Logger) error {
	if data, ts, err := cache.LoadLatest(); err == nil {
		if set, perr := tle.Parse(bytes.NewReader(data), logger); perr == nil && set.Len() > 0 {
			metrics.IncElementFetch("cache")
			publish(store, "cache", ts, set, logger)
		} else if perr != nil {
			logger.Warn("cached element data unparseable", "error", perr)
		}
	} else {
		logger.Info("no element cache found", "error", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	data, err := fetcher.Fetch(fetchCtx)
	if err != nil {
		metrics.IncElementFetch("error")
		if store.Get() == nil {
			return fmt.Errorf("fetch elements: %w", err)
		}
		logger.Warn("element fetch failed, serving cached data", "error", err)
		return nil
	}

	set, err := tle.Parse(bytes.NewReader(data), logger)
	if err != nil || set.Len() == 0 {
		metrics.IncElementFetch("error")
		if store.Get() == nil {
			return fmt.Errorf("parse fetched elements: %w", err)
		}
		logger.Warn("fetched element data unusable, serving cached data", "error", err)
		return nil
	}

	metrics.IncElementFetch("ok")
	now := time.Now().UTC()
	publish(store, fetcher.SourceURL(), now, set, logger)
	if err := cache.Write(data, now); err != nil {
		logger.Warn("element cache write failed", "error", err)
	}
	return nil
}

// refreshElements refetches on a fixed interval. Failures keep the
// previous dataset in place.
func refreshElements(ctx context.Context, store *tle.Store, cache *tle.DiskCache, fetcher *tle.Fetcher, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		data, err := fetcher.Fetch(fetchCtx)
		cancel()
		if err != nil {
			metrics.IncElementFetch("error")
			logger.Warn("element refresh failed, keeping previous dataset", "error", err)
			continue
		}

		set, err := tle.Parse(bytes.NewReader(data), logger)
		if err != nil || set.Len() == 0 {
			metrics.IncElementFetch("error")
			logger.Warn("refreshed element data unusable, keeping previous dataset", "error", err)
			continue
		}

		metrics.IncElementFetch("ok")
		now := time.Now().UTC()
		publish(store, fetcher.SourceURL(), now, set, logger)
		if err := cache.Write(data, now); err != nil {
			logger.Warn("element cache write failed", "error", err)
		}
	}
}

func publish(store *tle.Store, source string, fetchedAt time.Time, set *tle.CatalogSet, logger *slog.Logger) {
	store.Set(&tle.Dataset{
		Source:     source,
		FetchedAt:  fetchedAt,
		EpochRange: tle.RangeOf(set),
		Set:        set,
	})
	metrics.SetDatasetRecords(set.Len())
	metrics.SetDatasetAge(time.Since(fetchedAt).Seconds())
	logger.Info("element dataset published",
		"source", source,
		"records", set.Len(),
		"fetched_at", fetchedAt.Format(time.RFC3339),
	)
}
