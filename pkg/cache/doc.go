// Package cache provides an optional Redis-backed cache for ALM page responses.
//
// Re-running an export against an unchanged project re-downloads every page.
// When enabled, the cache stores successful page bodies keyed by server,
// project, page size and start index, and serves them until their TTL elapses.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, 5*time.Minute)
//
//	key := cache.PageKey{
//		Server:     "https://alm.example.com",
//		Domain:     "DEFAULT",
//		Project:    "QA",
//		PageSize:   100,
//		StartIndex: 101,
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from ALM, then:
//		_ = manager.Set(ctx, key, cache.NewEntry(body, 200, manager.TTL()))
//	}
//
// Only 2xx bodies holding an entities array are cached; failed or malformed
// pages are never stored.
//
// # Metrics
//
//   - almexport_cache_hits_total
//   - almexport_cache_misses_total
//   - almexport_cache_size_bytes
//   - almexport_cache_errors_total{operation}
package cache
