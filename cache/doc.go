// Package cache layers method-level caching over a key-value Storage.
//
// A function is attached to an Engine with Wrap and one of three kinds:
//
//   - Persistent entries take no arguments, are populated by Engine.Start or
//     on first use, never expire and may be refreshed on a timer.
//   - Temporal entries are keyed by selected call arguments and expire after
//     a TTL. No sliding expiration.
//   - Bust calls invalidate a key, optionally cascading to every derived key
//     tracked under it, run the wrapped function and then eagerly refresh any
//     persistent entry they hit.
//
// Derived keys are base + ":" + canonical JSON of each selected argument.
// The set of derived keys per base is kept by an Index; the default
// StorageIndex persists it in the storage under base + RootKeySuffix so
// that processes sharing a storage see each other's children.
//
// Storages shipped here are MemoryStorage, LRUStorage and the
// ResilientStorage decorator. Shared backends live in redisstore and
// sqlstore.
package cache
