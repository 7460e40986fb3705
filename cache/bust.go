package cache

import (
	"context"
	"errors"

	"github.com/jonwraymond/keycache/observe"
)

// resolvedTarget is a bust target with its derived key computed up front,
// so argument-shape errors surface before any storage access.
type resolvedTarget struct {
	BustTarget
	key string
}

// bust invalidates targets in order, runs the guarded computation when every
// target succeeded, then refreshes the persistent targets.
//
// Targets are isolated: a failing target does not stop the ones after it.
// Their errors are joined in target order and the computation is skipped.
// The joined error is logged once, by the middleware.
func (e *Engine) bust(ctx context.Context, targets []BustTarget, args []any, run func(context.Context) error) error {
	resolved := make([]resolvedTarget, 0, len(targets))
	for _, t := range targets {
		r := resolvedTarget{BustTarget: t, key: t.Key}
		if !t.BustAllChildren {
			key, err := e.keyer.Derive(t.Key, args, t.Params)
			if err != nil {
				return err
			}
			r.key = key
		}
		resolved = append(resolved, r)
	}

	return e.mw.Run(ctx, meta(Bust, targets[0].Key, observe.OpBust), func(ctx context.Context) (observe.Outcome, error) {
		var errs []error
		for _, t := range resolved {
			if err := e.bustTarget(ctx, t); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return "", err
		}

		if run != nil {
			if err := run(ctx); err != nil {
				return "", err
			}
		}

		if err := e.refreshTargets(ctx, resolved); err != nil {
			return "", err
		}
		return observe.OutcomeBust, nil
	})
}

func (e *Engine) bustTarget(ctx context.Context, t resolvedTarget) error {
	if t.BustAllChildren {
		return e.cascade(ctx, t.Key)
	}

	if _, err := e.storage.Delete(ctx, t.key); err != nil {
		return storageErr("delete", t.key, err)
	}
	if t.key != t.Key {
		return e.index.UnregisterChild(ctx, t.Key, t.key)
	}
	return nil
}

// cascade deletes every tracked child of base, the index entry and the value
// stored at base itself.
func (e *Engine) cascade(ctx context.Context, base string) error {
	children, err := e.index.Children(ctx, base)
	if err != nil {
		return err
	}

	var errs []error
	for _, child := range children {
		if _, err := e.storage.Delete(ctx, child); err != nil {
			errs = append(errs, storageErr("delete", child, err))
		}
	}
	if len(errs) > 0 {
		// The index stays intact while any child survives.
		return errors.Join(errs...)
	}

	if err := e.index.Clear(ctx, base); err != nil {
		return err
	}
	if _, err := e.storage.Delete(ctx, base); err != nil {
		return storageErr("delete", base, err)
	}
	return nil
}

// refreshTargets eagerly repopulates every persistent base key among targets.
// Keys owned by this engine refresh synchronously; keys tagged persistent
// only in storage are signalled through the notifier.
func (e *Engine) refreshTargets(ctx context.Context, targets []resolvedTarget) error {
	seen := make(map[string]struct{}, len(targets))
	var errs []error

	for _, t := range targets {
		if _, dup := seen[t.Key]; dup {
			continue
		}
		seen[t.Key] = struct{}{}

		if entry, ok := e.persistentEntry(t.Key); ok {
			if err := e.refresh(ctx, entry); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if e.notifier == nil {
			continue
		}
		if k, ok := e.kinds.lookup(t.Key); ok && k != Persistent {
			continue
		}

		kind, found, err := e.storedKind(ctx, t.Key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !found || kind != Persistent {
			continue
		}
		if err := e.notifier.Publish(ctx, RefreshSignal{Key: t.Key, Origin: e.id}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
