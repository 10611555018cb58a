package cmd

import (
	"context"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"

	"github.com/conneroisu/excerpt/internal/cache"
	"github.com/conneroisu/excerpt/internal/clock"
	"github.com/conneroisu/excerpt/internal/config"
	"github.com/conneroisu/excerpt/internal/logging"
	"github.com/conneroisu/excerpt/internal/repository"
	"github.com/conneroisu/excerpt/internal/store"
	"github.com/conneroisu/excerpt/internal/tracker"
	"github.com/conneroisu/excerpt/internal/transform"
)

// app is the set of components every store-backed command works with.
type app struct {
	cfg      *config.Config
	logger   logging.Logger
	store    store.Store
	repo     *repository.Repository
	pipeline *transform.Pipeline
	cache    *cache.Cache
	writer   *cache.Writer
	tracker  *tracker.Tracker
}

// loadConfig reads the configuration from the global viper instance.
func loadConfig() (*config.Config, error) {
	return config.Load()
}

// openApp opens the configured store and wires the render path over it.
// Logs go to logOut.
func openApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	if logOut == nil {
		logOut = os.Stderr
	}
	logger := cfg.Log.NewLogger(logOut)

	st, err := store.Open(ctx, cfg.Store.StoreOptions())
	if err != nil {
		return nil, err
	}

	clk := clock.Real()
	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		repo:     repository.New(st, clk, logger),
		pipeline: transform.New(transform.Options{Logger: logger}),
	}
	a.cache = cache.New(a.repo, a.pipeline, cache.Options{
		Clock:  clk,
		Logger: logger,
		Hot:    cache.NewHotCache(cfg.Cache.HotSize, cfg.Cache.HotTTL, clk),
	})
	a.writer = cache.NewWriter(a.repo, a.pipeline, a.cache, cache.WriterOptions{
		Delay:  cfg.Cache.Debounce,
		Clock:  clk,
		Logger: logger,
	})
	a.tracker = tracker.New(a.repo, a.pipeline, tracker.Options{
		Clock:    clk,
		Logger:   logger,
		OnSynced: a.cache.Put,
	})
	return a, nil
}

// Close flushes pending writes and closes the store.
func (a *app) Close(ctx context.Context) error {
	var result *multierror.Error
	if err := a.writer.Close(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := a.store.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
