package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/gofrs/flock"

	"curator/internal/assetcache"
	"curator/internal/catalog"
	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/notify"
	"curator/internal/providers"
	"curator/internal/publish"
	"curator/internal/queue"
	"curator/internal/recycle"
	"curator/internal/scanner"
	"curator/internal/verify"
	"curator/internal/workflow"
)

// daemon owns every long-lived resource the workflow manager depends on.
type daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	lock    *flock.Flock
	jobs    *queue.Store
	catalog *catalog.Store
	cache   *assetcache.Cache
	manager *workflow.Manager
}

// bootstrap acquires the single-instance lock, opens the stores, and wires
// the workflow manager with one handler per phase.
func bootstrap(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	lock := flock.New(filepath.Join(cfg.DataDir, "curatord.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another curatord instance holds %s", lock.Path())
	}

	d := &daemon{cfg: cfg, logger: logger, lock: lock}
	if err := d.open(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *daemon) open() error {
	jobs, err := queue.Open(d.cfg)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}
	d.jobs = jobs

	store, err := catalog.Open(d.cfg)
	if err != nil {
		return fmt.Errorf("open catalog store: %w", err)
	}
	d.catalog = store

	cache, err := assetcache.Open(d.cfg, d.logger)
	if err != nil {
		return fmt.Errorf("open asset cache: %w", err)
	}
	d.cache = cache

	bin, err := recycle.NewBin(d.cfg.TrashDir, d.logger)
	if err != nil {
		return fmt.Errorf("open recycle bin: %w", err)
	}

	registry, err := providers.BuildRegistry(d.cfg)
	if err != nil {
		return fmt.Errorf("build provider registry: %w", err)
	}

	fetcher := providers.NewFetcher(d.cfg, registry, store, d.logger)
	downloader := providers.NewDownloader(d.cfg, cache, store, d.logger)
	publisher := publish.NewPublisher(cache, store, publish.XMLRenderer{}, d.logger)
	verifier := verify.New(d.cfg, store, cache, bin, jobs, d.logger)

	var notifier notify.Notifier = notify.Noop{}
	if len(d.cfg.Players) > 0 {
		notifier = notify.NewService(d.cfg, d.logger)
	}

	d.manager = workflow.NewManager(d.cfg, jobs, store, cache, bin, d.logger)
	handlers := []workflow.Handler{
		workflow.NewScanHandler(scanner.New(d.cfg, store, d.logger), d.logger),
		workflow.NewEnrichHandler(d.cfg, store, fetcher, downloader, d.logger),
		workflow.NewPublishHandler(store, publisher, d.logger),
		workflow.NewVerifyHandler(store, verifier, d.logger),
		workflow.NewNotifyHandler(notifier, d.logger),
	}
	for _, handler := range handlers {
		if err := d.manager.Register(handler); err != nil {
			return fmt.Errorf("register %s handler: %w", handler.JobType(), err)
		}
	}
	return nil
}

// Run logs a health summary and blocks draining the queue until ctx ends.
func (d *daemon) Run(ctx context.Context) error {
	stats, err := d.jobs.Stats(ctx)
	if err != nil {
		return fmt.Errorf("queue health check: %w", err)
	}
	cacheStats, err := d.cache.Stats(ctx)
	if err != nil {
		return fmt.Errorf("cache health check: %w", err)
	}
	d.logger.Info("startup health summary",
		logging.Int("pendingJobs", stats.Pending),
		logging.Int("processingJobs", stats.Processing),
		logging.Duration("oldestPendingAge", stats.OldestPendingAge),
		logging.Int("cachedBlobs", cacheStats.Blobs),
		logging.Int("orphanedBlobs", cacheStats.Orphaned),
		logging.Int64("cacheBytes", cacheStats.TotalSize),
		logging.Int("providers", len(d.cfg.Providers)))

	return d.manager.Run(ctx)
}

// Close releases stores in reverse open order; safe on a partially opened
// daemon.
func (d *daemon) Close() {
	if d.cache != nil {
		if err := d.cache.Close(); err != nil {
			d.logger.Warn("close asset cache", logging.Error(err))
		}
	}
	if d.catalog != nil {
		if err := d.catalog.Close(); err != nil {
			d.logger.Warn("close catalog store", logging.Error(err))
		}
	}
	if d.jobs != nil {
		if err := d.jobs.Close(); err != nil {
			d.logger.Warn("close queue store", logging.Error(err))
		}
	}
	if d.lock != nil {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("release instance lock", logging.Error(err))
		}
	}
}
