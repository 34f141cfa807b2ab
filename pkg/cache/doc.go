// Package cache stores the last good payload of every E.ON resource in Redis.
//
// The poller writes a snapshot after each successful fetch. When a later
// fetch fails, the snapshot is served instead so the presentation side keeps
// showing the previous values rather than nothing.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, 3*time.Hour)
//
//	key := cache.SnapshotKey{
//		AccountContract: "002100000001",
//		Resource:        "meter_index",
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// nothing fetched yet
//	}
//
// # Storing a payload
//
//	entry := manager.NewEntry(key.Resource, body.JSON, body.Text)
//	if err := manager.Set(ctx, key, entry); err != nil {
//		return err
//	}
//
// Touch extends the expiry of a snapshot that could not be refreshed.
//
// # Metrics
//
//   - eon_cache_hits_total - Snapshot hits
//   - eon_cache_misses_total - Snapshot misses
//   - eon_cache_writes_total - Snapshots written
//   - eon_cache_last_write_bytes{resource} - Size of the last snapshot per resource
//   - eon_cache_errors_total{operation} - Redis operation errors
package cache
