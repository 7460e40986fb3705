package cache

import (
	"context"
	"fmt"
)

// Func is a computation that can be cached. args are the call arguments
// used for key derivation.
type Func[T any] func(ctx context.Context, args ...any) (T, error)

// Wrap attaches fn to e under opts and returns a function with the same
// signature and the caching behavior of opts.Kind layered around it.
//
// Options are validated and the key's kind is registered here, so a
// malformed combination or a kind conflict fails before any call. Results
// round-trip through the engine codec; errors are returned and never cached.
func Wrap[T any](e *Engine, opts Options, fn Func[T]) (Func[T], error) {
	if e == nil {
		return nil, ErrNilEngine
	}
	if fn == nil {
		return nil, usageErr(opts.Key, "function is nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	compute := func(ctx context.Context, args []any) ([]byte, error) {
		v, err := fn(ctx, args...)
		if err != nil {
			return nil, err
		}
		raw, err := e.codec.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cache: encode result of %q: %w", opts.Key, err)
		}
		return raw, nil
	}

	var persistentCompute func(context.Context) ([]byte, error)
	if opts.Kind == Persistent {
		persistentCompute = func(ctx context.Context) ([]byte, error) { return compute(ctx, nil) }
	}
	if err := e.register(opts, persistentCompute); err != nil {
		return nil, err
	}

	decode := func(raw []byte) (T, error) {
		var v T
		if err := e.codec.Unmarshal(raw, &v); err != nil {
			return v, fmt.Errorf("cache: decode value of %q: %w", opts.Key, err)
		}
		return v, nil
	}

	switch opts.Kind {
	case Persistent:
		return func(ctx context.Context, args ...any) (T, error) {
			var zero T
			if len(args) > 0 {
				return zero, usageErr(opts.Key, "arguments are not supported for persistent cache")
			}
			if e.isClosed() {
				return zero, ErrClosed
			}
			entry, _ := e.persistentEntry(opts.Key)
			raw, err := e.readPersistent(ctx, entry)
			if err != nil {
				return zero, err
			}
			return decode(raw)
		}, nil

	case Temporal:
		return func(ctx context.Context, args ...any) (T, error) {
			var zero T
			if e.isClosed() {
				return zero, ErrClosed
			}
			raw, err := e.readTemporal(ctx, opts, args, func(ctx context.Context) ([]byte, error) {
				return compute(ctx, args)
			})
			if err != nil {
				return zero, err
			}
			return decode(raw)
		}, nil

	default:
		targets := opts.targets()
		return func(ctx context.Context, args ...any) (T, error) {
			var result T
			if e.isClosed() {
				return result, ErrClosed
			}
			err := e.bust(ctx, targets, args, func(ctx context.Context) error {
				v, err := fn(ctx, args...)
				result = v
				return err
			})
			return result, err
		}, nil
	}
}
