// Package redisstore backs the cache engine with Redis.
//
// Storage implements cache.Storage with native TTL so several processes can
// share cached values and the persisted child index. Notifier carries
// persistent refresh signals over Redis Pub/Sub.
package redisstore
