package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/keycache/observe"
)

// Engine runs the persistent, temporal and bust lifecycles against one
// storage. Functions are attached to it with Wrap.
//
// Contract:
// - Concurrency: all methods are safe for concurrent use.
// - Lifetime: Close stops refresh and expiry timers; later calls fail with ErrClosed.
// - Errors: storage failures surface as *StorageError and are never
// turned into a recomputation.
type Engine struct {
	storage   Storage
	index     Index
	keyer     *Keyer
	codec     Codec
	notifier  Notifier
	mw        *observe.Middleware
	coalesce  bool
	nativeTTL bool
	id        string

	kinds   *kindTable
	flights singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	persistent map[string]*persistentEntry
	expiry     map[string]*expiryTimer
	closed     bool
	subscribe  sync.Once
}

// persistentEntry is the refresh registry record of one persistent base key.
type persistentEntry struct {
	key      string
	interval time.Duration
	compute  func(ctx context.Context) ([]byte, error)

	initOnce  sync.Once
	initErr   error
	timerOnce sync.Once
}

type expiryTimer struct {
	timer *time.Timer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithIndex replaces the default StorageIndex.
func WithIndex(index Index) EngineOption {
	return func(e *Engine) {
		e.index = index
	}
}

// WithKeyEncoding selects how arguments are encoded into derived keys.
func WithKeyEncoding(enc KeyEncoding) EngineOption {
	return func(e *Engine) {
		e.keyer = NewKeyer(enc)
	}
}

// WithCodec replaces the default JSONCodec.
func WithCodec(c Codec) EngineOption {
	return func(e *Engine) {
		e.codec = c
	}
}

// WithCoalescing makes concurrent temporal misses on one derived key share
// a single computation.
func WithCoalescing(enabled bool) EngineOption {
	return func(e *Engine) {
		e.coalesce = enabled
	}
}

// WithNotifier enables cross-process refresh signals for persistent entries.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithMiddleware instruments every engine operation.
func WithMiddleware(mw *observe.Middleware) EngineOption {
	return func(e *Engine) {
		e.mw = mw
	}
}

// WithInstanceID overrides the generated engine instance id.
func WithInstanceID(id string) EngineOption {
	return func(e *Engine) {
		e.id = id
	}
}

// New creates an engine on storage.
func New(storage Storage, opts ...EngineOption) (*Engine, error) {
	if storage == nil {
		return nil, ErrNilStorage
	}

	e := &Engine{
		storage:    storage,
		keyer:      NewKeyer(KeyEncodingJSON),
		codec:      JSONCodec{},
		mw:         observe.NopMiddleware(),
		nativeTTL:  supportsTTL(storage),
		kinds:      newKindTable(),
		persistent: make(map[string]*persistentEntry),
		expiry:     make(map[string]*expiryTimer),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.index == nil {
		e.index = NewStorageIndex(storage)
	}
	if e.mw == nil {
		e.mw = observe.NopMiddleware()
	}
	if e.id == "" {
		e.id = uuid.NewString()
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// ID returns the engine instance id.
func (e *Engine) ID() string { return e.id }

// Storage returns the engine's storage.
func (e *Engine) Storage() Storage { return e.storage }

// Start is the startup hook. It populates every registered persistent entry
// that is missing from storage, arms their refresh timers and subscribes to
// the notifier. Each persistent key is initialized at most once per engine;
// calling Start again only initializes keys registered since.
func (e *Engine) Start(ctx context.Context) error {
	if e.isClosed() {
		return ErrClosed
	}

	e.mu.Lock()
	entries := make([]*persistentEntry, 0, len(e.persistent))
	for _, entry := range e.persistent {
		entries = append(entries, entry)
	}
	e.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		g.Go(func() error {
			return e.initPersistent(gctx, entry)
		})
	}

	var subErr error
	if e.notifier != nil {
		e.subscribe.Do(func() {
			subErr = e.notifier.Subscribe(e.ctx, e.handleSignal)
		})
	}

	return errors.Join(g.Wait(), subErr)
}

// Close cancels refresh loops, stops expiry timers and waits for background
// work. It is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for key, t := range e.expiry {
		t.timer.Stop()
		delete(e.expiry, key)
	}
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	return nil
}

// Children returns the derived keys tracked under base.
func (e *Engine) Children(ctx context.Context, base string) ([]string, error) {
	if err := ValidateKey(base); err != nil {
		return nil, &UsageError{Key: base, Reason: "invalid key", Err: err}
	}
	return e.index.Children(ctx, base)
}

// Kind reports the kind registered for base, consulting the kind tag in
// storage when the key is not registered in this engine.
func (e *Engine) Kind(ctx context.Context, base string) (Kind, bool, error) {
	if k, ok := e.kinds.lookup(base); ok {
		return k, true, nil
	}
	return e.storedKind(ctx, base)
}

// Invalidate busts targets using args for key derivation, then refreshes the
// persistent ones. It is a bust without a guarded computation.
func (e *Engine) Invalidate(ctx context.Context, args []any, targets ...BustTarget) error {
	if e.isClosed() {
		return ErrClosed
	}
	if len(targets) == 0 {
		return nil
	}
	for _, t := range targets {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return e.bust(ctx, targets, args, nil)
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// register records the kind of opts.Key and, for persistent keys, the
// refresh callback. The first persistent registration of a key wins.
func (e *Engine) register(opts Options, compute func(context.Context) ([]byte, error)) error {
	if err := e.kinds.register(opts.Key, opts.Kind); err != nil {
		return err
	}
	if opts.Kind != Persistent {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.persistent[opts.Key]; !ok {
		e.persistent[opts.Key] = &persistentEntry{
			key:      opts.Key,
			interval: opts.RefreshInterval,
			compute:  compute,
		}
	}
	return nil
}

func (e *Engine) persistentEntry(key string) (*persistentEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.persistent[key]
	return entry, ok
}

// storedKind reads the kind tag mirrored in storage.
func (e *Engine) storedKind(ctx context.Context, base string) (Kind, bool, error) {
	key := KindKey(base)
	raw, found, err := e.storage.Get(ctx, key)
	if err != nil {
		return 0, false, storageErr("get", key, err)
	}
	if !found {
		return 0, false, nil
	}
	k, err := ParseKind(string(raw))
	if err != nil {
		return 0, false, fmt.Errorf("cache: kind tag of %q: %w", base, err)
	}
	return k, true, nil
}

func (e *Engine) tagKind(ctx context.Context, base string, kind Kind) error {
	key := KindKey(base)
	return storageErr("set", key, e.storage.Set(ctx, key, []byte(kind.String()), 0))
}

func meta(kind Kind, key, op string) observe.OpMeta {
	return observe.OpMeta{Kind: kind.String(), Key: key, Op: op}
}
