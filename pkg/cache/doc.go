// Package cache keeps address lookups in front of the repository name index.
//
// A lookup maps a resource address to the digest it is bound to. Entries are
// small and expire after a fixed TTL, so a rebinding is picked up without an
// explicit invalidation even when another process wrote it.
//
// Two stores implement Store:
//
//   - MemoryStore: an in-process expirable LRU
//   - Manager: a Redis-backed store shared between processes
//
// Tiered combines them, checking memory first and backfilling it on a Redis hit.
//
// # Basic Usage
//
//	store := cache.NewTiered(
//		cache.NewMemoryStore(cache.DefaultMemorySize, cache.DefaultTTL),
//		cache.NewManager(redisClient),
//	)
//
//	entry, err := store.Get(ctx, cache.KeyFor(addr))
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// Look the address up in the repository, then store.Set(...)
//	}
//
// # Conditional Requests
//
// The HTTP helpers derive an ETag from an entry's digest and answer
// If-None-Match:
//
//	cache.SetEntryHeaders(w.Header(), entry)
//	if cache.NotModified(r, entry) {
//		w.WriteHeader(http.StatusNotModified)
//		return
//	}
//
// # Metrics
//
//   - rwx_im_lookup_cache_hits_total{layer="memory"|"redis"}
//   - rwx_im_lookup_cache_misses_total
//   - rwx_im_lookup_cache_errors_total{operation}
//   - rwx_im_lookup_cache_entries{layer="memory"}
//   - rwx_im_not_modified_responses_total
package cache
