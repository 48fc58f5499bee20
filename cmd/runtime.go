package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"botserver/pkg/bots"
	"botserver/pkg/bus"
	"botserver/pkg/config"
	"botserver/pkg/dialog"
	"botserver/pkg/dialog/wait"
	"botserver/pkg/gateway"
	"botserver/pkg/media"
	"botserver/pkg/session"
	"botserver/pkg/store"
)

// appRuntime holds the long-lived components shared by the commands.
type appRuntime struct {
	catalog  *bots.Catalog
	engine   *dialog.Engine
	events   *bus.MessageBus
	waits    wait.Store
	runs     *store.SQLiteStore
	registry *session.Registry
	waitTTL  time.Duration
	closers  []func() error
}

// newRuntime loads the bots and opens the stores selected by cfg.
func newRuntime(cfg *config.Config, log *slog.Logger) (*appRuntime, error) {
	catalog, err := bots.LoadCatalog(cfg.Bots.Root, log)
	if err != nil {
		return nil, fmt.Errorf("load bots: %w", err)
	}

	rt := &appRuntime{catalog: catalog}

	runs, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt.runs = runs
	rt.closers = append(rt.closers, runs.Close)

	rt.waits = newWaitStore(cfg.Cache)
	rt.waitTTL = time.Duration(cfg.Cache.HearTTLSeconds) * time.Second
	rt.registry = session.NewRegistry()
	if closer, ok := rt.waits.(interface{ Close() error }); ok {
		rt.closers = append(rt.closers, closer.Close)
	}

	rt.events = bus.NewMessageBus()
	rt.closers = append(rt.closers, func() error {
		rt.events.Close()
		return nil
	})

	engine, err := dialog.New(dialog.Options{
		Catalog:    catalog,
		Runs:       runs,
		Waits:      rt.waits,
		Registry:   rt.registry,
		Media:      media.New(cfg.Services, nil),
		Events:     rt.events,
		MaxRetries: cfg.Dialog.MaxRetries,
		Log:        log,
	})
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("initialize dialog engine: %w", err)
	}
	rt.engine = engine

	return rt, nil
}

func newWaitStore(cfg config.CacheConfig) wait.Store {
	ttl := time.Duration(cfg.HearTTLSeconds) * time.Second
	if cfg.Backend == config.CacheBackendRedis {
		return wait.NewRedisStore(wait.RedisOptions{
			Address:  cfg.Address,
			Password: cfg.Password(),
			DB:       cfg.DB,
			TTL:      ttl,
		})
	}
	return wait.NewMemoryStore(ttl)
}

// dependencies lists what readiness checks ping.
func (rt *appRuntime) dependencies() map[string]gateway.Pinger {
	return map[string]gateway.Pinger{
		"cache": rt.waits,
		"store": rt.runs,
	}
}

// observe logs engine events and prunes stale waiting flags until ctx is
// done.
func (rt *appRuntime) observe(ctx context.Context, log *slog.Logger) {
	go dialog.ObserveEvents(ctx, rt.events, log)
	go pruneWaiting(ctx, rt.registry, rt.waitTTL, log)
}

// pruneWaiting drops waiting flags whose descriptor has outlived the TTL.
func pruneWaiting(ctx context.Context, registry *session.Registry, ttl time.Duration, log *slog.Logger) {
	if ttl <= 0 {
		return
	}
	interval := min(ttl, time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := registry.Prune(ttl); removed > 0 {
				log.Debug("Pruned expired waits", "count", removed)
			}
		}
	}
}

func (rt *appRuntime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
