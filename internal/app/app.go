// ABOUTME: Composition root shared by the CLI and the MCP server
// ABOUTME: Opens storage with retries, layers the optional Redis cache, and builds the gatekeeper
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/harper/threadkeeper/internal/config"
	"github.com/harper/threadkeeper/internal/core"
	"github.com/harper/threadkeeper/internal/logger"
	"github.com/harper/threadkeeper/internal/mcp"
	"github.com/harper/threadkeeper/internal/storage"
	"github.com/harper/threadkeeper/internal/storage/rediscache"
	"github.com/harper/threadkeeper/internal/storage/sqlite"
	"github.com/harper/threadkeeper/internal/util"
)

// App holds every long-lived component. Nothing here is global.
type App struct {
	Config      *config.Config
	Log         *logger.Logger
	Store       *sqlite.Storage
	Checkpoints storage.CheckpointStore
	Gatekeeper  *core.Gatekeeper

	cache *rediscache.Store
}

// Open opens the database (running migrations before anything else touches it),
// retrying transient failures, then wires the remaining components. A configured
// but unreachable Redis is logged and skipped.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}

	var store *sqlite.Storage
	err := util.Retry(ctx, cfg.OpenRetries, cfg.OpenRetryDelay,
		func(err error) bool { return !errors.Is(err, storage.ErrMigrationFailure) },
		func() error {
			s, err := sqlite.NewStorage(sqlite.Options{
				Path:             cfg.DBPath,
				CheckpointRetain: cfg.CheckpointRetain,
				DefaultTimezone:  cfg.DefaultTimezone,
				BypassThrottle:   cfg.BypassThrottle,
				DedupTTL:         cfg.DedupTTL,
				BurstInterval:    cfg.BurstInterval,
				Logger:           log,
			})
			if err != nil {
				log.Warn("storage open failed", "error", err)
				return err
			}
			store = s
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	a := &App{
		Config:      cfg,
		Log:         log,
		Store:       store,
		Checkpoints: store.Checkpoints(),
	}

	if cfg.RedisAddr != "" {
		cache, err := rediscache.New(ctx, store.Checkpoints(), rediscache.Options{
			Addr:   cfg.RedisAddr,
			TTL:    cfg.RedisTTL,
			Logger: log,
		})
		if err != nil {
			log.Warn("redis cache disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			a.cache = cache
			a.Checkpoints = cache
		}
	}

	a.Gatekeeper = core.NewGatekeeper(store.Guard(), store.Ledger(), a.Checkpoints, store.Identities(), log)
	log.Debug("storage ready", "path", store.DB().Path(), "cache", a.cache != nil)
	return a, nil
}

// Close releases the cache client and the database handle.
func (a *App) Close() error {
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

// Serve runs the MCP server on stdio until ctx ends, sweeping expired
// processed-message records in the background when SweepInterval > 0.
func (a *App) Serve(ctx context.Context, version string) error {
	if a.Config.SweepInterval > 0 {
		sweeper := core.NewSweeper(a.Store.Guard(), a.Config.SweepInterval, a.Log)
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	handlers := mcp.NewHandlers(a.Checkpoints, a.Store.Ledger(), a.Gatekeeper, a.Log)
	server := mcp.NewServer(version, handlers)

	a.Log.Info("mcp server starting on stdio", "version", version)
	return mcp.ServeStdio(ctx, server)
}
