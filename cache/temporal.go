package cache

import (
	"context"
	"time"

	"github.com/jonwraymond/keycache/observe"
)

// readTemporal serves a TTL-bound entry for the derived key of args.
func (e *Engine) readTemporal(ctx context.Context, opts Options, args []any, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	key, err := e.keyer.Derive(opts.Key, args, opts.Params)
	if err != nil {
		return nil, err
	}
	child := len(opts.Params) > 0

	var out []byte
	err = e.mw.Run(ctx, meta(Temporal, opts.Key, observe.OpRead), func(ctx context.Context) (observe.Outcome, error) {
		// Registered before the read so a value stored concurrently with a
		// cascade is either indexed or never stored.
		if child {
			if err := e.index.RegisterChild(ctx, opts.Key, key); err != nil {
				return "", err
			}
		}

		raw, found, err := e.storage.Get(ctx, key)
		if err != nil {
			return "", storageErr("get", key, err)
		}
		if found {
			out = raw
			return observe.OutcomeHit, nil
		}

		raw, err = e.fill(ctx, key, func(ctx context.Context) ([]byte, error) {
			raw, err := compute(ctx)
			if err != nil {
				return nil, err
			}
			if err := e.storage.Set(ctx, key, raw, opts.TTL); err != nil {
				return nil, storageErr("set", key, err)
			}
			if !e.nativeTTL {
				e.armExpiry(opts.Key, key, child, opts.TTL)
			}
			return raw, nil
		})
		if err != nil {
			return "", err
		}
		out = raw
		return observe.OutcomeMiss, nil
	})
	return out, err
}

// fill runs load, sharing one execution per key when coalescing is enabled.
func (e *Engine) fill(ctx context.Context, key string, load func(context.Context) ([]byte, error)) ([]byte, error) {
	if !e.coalesce {
		return load(ctx)
	}
	v, err, _ := e.flights.Do(key, func() (any, error) {
		return load(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// armExpiry deletes key after ttl for storages without native TTL. A newer
// store of the same key replaces the pending timer.
func (e *Engine) armExpiry(base, key string, child bool, ttl time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	if prev, ok := e.expiry[key]; ok {
		prev.timer.Stop()
	}
	t := &expiryTimer{}
	t.timer = time.AfterFunc(ttl, func() { e.expire(base, key, child, t) })
	e.expiry[key] = t
}

func (e *Engine) expire(base, key string, child bool, t *expiryTimer) {
	e.mu.Lock()
	if e.closed || e.expiry[key] != t {
		e.mu.Unlock()
		return
	}
	delete(e.expiry, key)
	e.mu.Unlock()

	_ = e.mw.Run(e.ctx, meta(Temporal, base, observe.OpExpire), func(ctx context.Context) (observe.Outcome, error) {
		if _, err := e.storage.Delete(ctx, key); err != nil {
			return "", storageErr("delete", key, err)
		}
		if child {
			if err := e.index.UnregisterChild(ctx, base, key); err != nil {
				return "", err
			}
		}
		return observe.OutcomeExpire, nil
	})
}
