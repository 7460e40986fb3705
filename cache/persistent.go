package cache

import (
	"context"
	"time"

	"github.com/jonwraymond/keycache/observe"
)

// readPersistent serves a persistent entry, populating it on a confirmed miss.
func (e *Engine) readPersistent(ctx context.Context, entry *persistentEntry) ([]byte, error) {
	var out []byte
	err := e.mw.Run(ctx, meta(Persistent, entry.key, observe.OpRead), func(ctx context.Context) (observe.Outcome, error) {
		raw, found, err := e.storage.Get(ctx, entry.key)
		if err != nil {
			return "", storageErr("get", entry.key, err)
		}
		if found {
			out = raw
			e.armRefresh(entry)
			return observe.OutcomeHit, nil
		}

		raw, err = e.populate(ctx, entry)
		if err != nil {
			return "", err
		}
		out = raw
		return observe.OutcomeMiss, nil
	})
	return out, err
}

// initPersistent is the once-per-key startup population.
func (e *Engine) initPersistent(ctx context.Context, entry *persistentEntry) error {
	entry.initOnce.Do(func() {
		entry.initErr = e.mw.Run(ctx, meta(Persistent, entry.key, observe.OpPopulate), func(ctx context.Context) (observe.Outcome, error) {
			found, err := e.storage.Has(ctx, entry.key)
			if err != nil {
				return "", storageErr("has", entry.key, err)
			}
			if found {
				e.armRefresh(entry)
				return observe.OutcomeHit, nil
			}
			if _, err := e.populate(ctx, entry); err != nil {
				return "", err
			}
			return observe.OutcomeMiss, nil
		})
	})
	return entry.initErr
}

// populate computes the entry, stores it without expiry, mirrors the kind
// tag and makes sure the refresh timer runs.
func (e *Engine) populate(ctx context.Context, entry *persistentEntry) ([]byte, error) {
	raw, err := entry.compute(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.storage.Set(ctx, entry.key, raw, 0); err != nil {
		return nil, storageErr("set", entry.key, err)
	}
	if err := e.tagKind(ctx, entry.key, Persistent); err != nil {
		return nil, err
	}
	e.armRefresh(entry)
	return raw, nil
}

// refresh recomputes and overwrites the entry. On failure the stored value
// is left untouched.
func (e *Engine) refresh(ctx context.Context, entry *persistentEntry) error {
	return e.mw.Run(ctx, meta(Persistent, entry.key, observe.OpRefresh), func(ctx context.Context) (observe.Outcome, error) {
		if _, err := e.populate(ctx, entry); err != nil {
			return "", err
		}
		return observe.OutcomeRefresh, nil
	})
}

// armRefresh starts the refresh loop of entry once per engine.
func (e *Engine) armRefresh(entry *persistentEntry) {
	if entry.interval <= 0 {
		return
	}
	entry.timerOnce.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			return
		}
		e.wg.Add(1)
		go e.refreshLoop(entry)
	})
}

func (e *Engine) refreshLoop(entry *persistentEntry) {
	defer e.wg.Done()

	ticker := time.NewTicker(entry.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			// Errors are recorded by the middleware; the old value stays.
			_ = e.refresh(e.ctx, entry)
		}
	}
}

// handleSignal refreshes a locally registered persistent entry on behalf of
// a bust issued by another engine. Signals arriving after Close are dropped;
// Close waits for a refresh already running.
func (e *Engine) handleSignal(ctx context.Context, sig RefreshSignal) {
	if sig.Origin == e.id {
		return
	}
	entry, ok := e.persistentEntry(sig.Key)
	if !ok {
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	if err := e.refresh(ctx, entry); err != nil {
		e.mw.Logger().WithOp(meta(Persistent, sig.Key, observe.OpRefresh)).
			Warn(ctx, "remote refresh failed", observe.F("origin", sig.Origin))
	}
}
