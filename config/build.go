package config

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/keycache/cache"
	"github.com/jonwraymond/keycache/observe"
	"github.com/jonwraymond/keycache/redisstore"
	"github.com/jonwraymond/keycache/sqlstore"
)

// Runtime is an assembled cache: engine, storage and telemetry.
//
// Contract:
// - Ownership: Close releases everything Build created, in reverse order.
// - Concurrency: Close is safe to call more than once.
type Runtime struct {
	Engine   *cache.Engine
	Storage  cache.Storage
	Observer observe.Observer
	Logger   observe.Logger

	// Resilient is set when resilience is enabled.
	Resilient *cache.ResilientStorage

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closers   []func(context.Context) error
	closeOnce sync.Once
	closeErr  error
}

// Build validates cfg and assembles a Runtime. The engine is not started;
// callers wrap their functions first and then call Engine.Start.
func Build(ctx context.Context, cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// The engine and its telemetry share one instance id.
	if cfg.Engine.InstanceID == "" {
		cfg.Engine.InstanceID = uuid.NewString()
	}
	obs, err := observe.NewObserver(ctx, cfg.observeConfig())
	if err != nil {
		return nil, fmt.Errorf("config: observer: %w", err)
	}
	bg, cancel := context.WithCancel(context.Background())
	rt := &Runtime{Observer: obs, Logger: obs.Logger(), cancel: cancel}
	rt.closers = append(rt.closers, obs.Shutdown)

	fail := func(err error) (*Runtime, error) {
		_ = rt.Close(context.Background())
		return nil, err
	}

	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return fail(fmt.Errorf("config: middleware: %w", err))
	}
	encoding, _ := cache.ParseKeyEncoding(cfg.Engine.KeyEncoding)
	opts := []cache.EngineOption{
		cache.WithMiddleware(mw),
		cache.WithKeyEncoding(encoding),
		cache.WithCoalescing(cfg.Engine.Coalesce),
		cache.WithInstanceID(cfg.Engine.InstanceID),
	}

	var storage cache.Storage
	switch cfg.Storage.Driver {
	case DriverMemory:
		storage = cache.NewMemoryStorage()

	case DriverLRU:
		lru, err := cache.NewLRUStorage(cfg.Storage.LRU.Size, nil)
		if err != nil {
			return fail(err)
		}
		storage = lru

	case DriverRedis:
		rc := cfg.Storage.Redis
		store := redisstore.New(redisstore.Config{
			Addr:      rc.Addr,
			Password:  rc.Password,
			DB:        rc.DB,
			KeyPrefix: rc.KeyPrefix,
		})
		rt.closers = append(rt.closers, func(context.Context) error { return store.Close() })
		storage = store
		if rc.Notify {
			notifier := redisstore.NewNotifier(store.Client(), rc.Channel, func(err error) {
				rt.Logger.Warn(bg, "dropped refresh signal", observe.F("error", err.Error()))
			})
			opts = append(opts, cache.WithNotifier(notifier))
		}

	case DriverSQL:
		sc := cfg.Storage.SQL
		dialect, _ := sqlstore.ParseDialect(sc.Dialect)
		store, err := sqlstore.Open(ctx, sqlstore.Config{Dialect: dialect, DSN: sc.DSN, Table: sc.Table})
		if err != nil {
			return fail(err)
		}
		rt.closers = append(rt.closers, func(context.Context) error { return store.Close() })
		storage = store
		if sc.PurgeInterval > 0 {
			rt.wg.Add(1)
			go rt.purgeLoop(bg, store, sc.PurgeInterval.Std())
		}
	}

	if cfg.Resilience.Enabled {
		rcfg := cfg.resilienceConfig()
		rcfg.Breaker.OnStateChange = func(from, to cache.BreakerState) {
			rt.Logger.Warn(bg, "storage breaker state changed",
				observe.F("from", from.String()), observe.F("to", to.String()))
		}
		resilient, err := cache.NewResilientStorage(storage, rcfg)
		if err != nil {
			return fail(err)
		}
		rt.Resilient = resilient
		storage = resilient
	}
	rt.Storage = storage

	if cfg.Engine.Index == IndexLocal {
		opts = append(opts, cache.WithIndex(cache.NewLocalIndex()))
	}

	engine, err := cache.New(storage, opts...)
	if err != nil {
		return fail(err)
	}
	rt.Engine = engine
	return rt, nil
}

func (rt *Runtime) purgeLoop(ctx context.Context, store *sqlstore.Storage, every time.Duration) {
	defer rt.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					rt.Logger.Warn(ctx, "purge expired rows failed", observe.F("error", err.Error()))
				}
				continue
			}
			if n > 0 {
				rt.Logger.Debug(ctx, "purged expired rows", observe.F("rows", n))
			}
		}
	}
}

// HealthChecker returns a checker for the runtime's storage.
func (rt *Runtime) HealthChecker() *cache.StorageChecker {
	return cache.NewStorageChecker(rt.Storage)
}

// Close stops the engine and background work, then releases storage and
// telemetry. Errors are joined.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.closeOnce.Do(func() {
		var errs []error
		if rt.Engine != nil {
			errs = append(errs, rt.Engine.Close())
		}
		rt.cancel()
		rt.wg.Wait()
		for i := len(rt.closers) - 1; i >= 0; i-- {
			errs = append(errs, rt.closers[i](ctx))
		}
		rt.closeErr = errors.Join(errs...)
	})
	return rt.closeErr
}
