package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Index tracks, per base key, the derived keys materialized in storage so a
// cascade bust can find them.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Idempotency: RegisterChild, UnregisterChild and Clear are idempotent.
// - Errors: a persisted index that cannot be parsed yields *IndexCorruptionError.
type Index interface {
	// RegisterChild records derived under base.
	RegisterChild(ctx context.Context, base, derived string) error

	// Children returns the derived keys recorded under base, sorted.
	Children(ctx context.Context, base string) ([]string, error)

	// UnregisterChild forgets derived under base.
	UnregisterChild(ctx context.Context, base, derived string) error

	// Clear forgets every derived key under base.
	Clear(ctx context.Context, base string) error
}

// StorageIndex persists each base key's children as a JSON object
// ({"<derived>":1,...}) under RootKey(base) in the shared storage, so a bust
// in one process sees children registered by another.
//
// Read-modify-write cycles on one base key are serialized within the
// process. Across processes a registration racing with a cascade bust may be
// lost or may survive the cascade; the affected entry then lives until its
// own TTL.
//
// Children expire in storage without touching the blob. Whenever a
// registration brings the blob to a multiple of PruneEvery entries, children
// that storage no longer holds are dropped, so the blob stays near the live
// set plus PruneEvery.
type StorageIndex struct {
	// PruneEvery is the blob size step that triggers pruning. Zero or
	// negative disables it.
	PruneEvery int

	storage Storage
	locks   keyedMutex
}

// DefaultIndexPruneEvery is the PruneEvery of NewStorageIndex.
const DefaultIndexPruneEvery = 1024

// NewStorageIndex creates an index persisted in storage.
func NewStorageIndex(storage Storage) *StorageIndex {
	return &StorageIndex{storage: storage, PruneEvery: DefaultIndexPruneEvery}
}

// RegisterChild adds derived to the blob unless already present.
func (x *StorageIndex) RegisterChild(ctx context.Context, base, derived string) error {
	unlock := x.locks.lock(base)
	defer unlock()

	children, _, err := x.load(ctx, base)
	if err != nil {
		return err
	}
	if _, ok := children[derived]; ok {
		return nil
	}
	children[derived] = 1
	if x.PruneEvery > 0 && len(children)%x.PruneEvery == 0 {
		if err := x.prune(ctx, children, derived); err != nil {
			return err
		}
	}
	return x.store(ctx, base, children)
}

// prune drops children absent from storage. keep is being registered and
// has no value yet.
func (x *StorageIndex) prune(ctx context.Context, children map[string]int, keep string) error {
	for child := range children {
		if child == keep {
			continue
		}
		has, err := x.storage.Has(ctx, child)
		if err != nil {
			return storageErr("has", child, err)
		}
		if !has {
			delete(children, child)
		}
	}
	return nil
}

// Children returns the sorted derived keys of base; empty when none.
func (x *StorageIndex) Children(ctx context.Context, base string) ([]string, error) {
	children, _, err := x.load(ctx, base)
	if err != nil {
		return nil, err
	}
	return sortedKeys(children), nil
}

// UnregisterChild removes derived from the blob. The root key is deleted
// when its last child goes away.
func (x *StorageIndex) UnregisterChild(ctx context.Context, base, derived string) error {
	unlock := x.locks.lock(base)
	defer unlock()

	children, found, err := x.load(ctx, base)
	if err != nil || !found {
		return err
	}
	if _, ok := children[derived]; !ok {
		return nil
	}
	delete(children, derived)
	if len(children) == 0 {
		_, err := x.storage.Delete(ctx, RootKey(base))
		return storageErr("delete", RootKey(base), err)
	}
	return x.store(ctx, base, children)
}

// Clear deletes the root key of base.
func (x *StorageIndex) Clear(ctx context.Context, base string) error {
	unlock := x.locks.lock(base)
	defer unlock()

	_, err := x.storage.Delete(ctx, RootKey(base))
	return storageErr("delete", RootKey(base), err)
}

func (x *StorageIndex) load(ctx context.Context, base string) (map[string]int, bool, error) {
	root := RootKey(base)
	raw, found, err := x.storage.Get(ctx, root)
	if err != nil {
		return nil, false, storageErr("get", root, err)
	}
	children := make(map[string]int)
	if !found {
		return children, false, nil
	}
	if err := json.Unmarshal(raw, &children); err != nil {
		return nil, true, &IndexCorruptionError{Key: base, Err: err}
	}
	return children, true, nil
}

func (x *StorageIndex) store(ctx context.Context, base string, children map[string]int) error {
	root := RootKey(base)
	raw, err := json.Marshal(children)
	if err != nil {
		return err
	}
	return storageErr("set", root, x.storage.Set(ctx, root, raw, 0))
}

// LocalIndex keeps the child sets in process memory. It is only correct when
// every process that writes or busts a key shares this instance, i.e. with
// in-process storage.
type LocalIndex struct {
	mu       sync.RWMutex
	children map[string]map[string]struct{}
}

// NewLocalIndex creates an empty in-process index.
func NewLocalIndex() *LocalIndex {
	return &LocalIndex{children: make(map[string]map[string]struct{})}
}

func (x *LocalIndex) RegisterChild(_ context.Context, base, derived string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	set, ok := x.children[base]
	if !ok {
		set = make(map[string]struct{})
		x.children[base] = set
	}
	set[derived] = struct{}{}
	return nil
}

func (x *LocalIndex) Children(_ context.Context, base string) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	keys := make([]string, 0, len(x.children[base]))
	for k := range x.children[base] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (x *LocalIndex) UnregisterChild(_ context.Context, base, derived string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	set, ok := x.children[base]
	if !ok {
		return nil
	}
	delete(set, derived)
	if len(set) == 0 {
		delete(x.children, base)
	}
	return nil
}

func (x *LocalIndex) Clear(_ context.Context, base string) error {
	x.mu.Lock()
	delete(x.children, base)
	x.mu.Unlock()
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// keyedMutex hands out one mutex per key and drops it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

var (
	_ Index = (*StorageIndex)(nil)
	_ Index = (*LocalIndex)(nil)
)
