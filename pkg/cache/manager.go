package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is used when the manager is created without a TTL. It matches
// three default update intervals.
const DefaultTTL = 3 * time.Hour

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager handles snapshot operations with Redis backend.
type Manager struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewManager creates a new snapshot manager. ttl is how long a snapshot
// survives without being refreshed; zero selects DefaultTTL.
func NewManager(redisClient *redis.Client, ttl time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		redis: redisClient,
		ttl:   ttl,
	}
}

// TTL returns the snapshot lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// NewEntry builds a fresh entry for a payload fetched now.
func (m *Manager) NewEntry(resource string, data json.RawMessage, text string) *Entry {
	now := time.Now()
	return &Entry{
		Resource:  resource,
		Data:      data,
		Text:      text,
		FetchedAt: now,
		Expires:   now.Add(m.ttl),
	}
}

// Get retrieves a snapshot by key.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (m *Manager) Get(ctx context.Context, key SnapshotKey) (*Entry, error) {
	cacheKey := key.String()

	data, err := m.redis.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return &entry, nil
}

// Set stores a snapshot with TTL based on the entry's Expires field.
func (m *Manager) Set(ctx context.Context, key SnapshotKey, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		// Already expired, don't cache
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheWrites.Inc()
	CacheEntryBytes.WithLabelValues(key.Resource).Set(float64(len(data)))

	return nil
}

// Delete removes a snapshot.
func (m *Manager) Delete(ctx context.Context, key SnapshotKey) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Touch pushes the expiry of an existing snapshot one TTL into the future.
// The poller calls it when a refresh failed so the last good payload outlives
// the outage. Returns ErrCacheMiss when there is nothing to extend.
func (m *Manager) Touch(ctx context.Context, key SnapshotKey) error {
	entry, err := m.Get(ctx, key)
	if err != nil {
		return err
	}

	entry.Expires = time.Now().Add(m.ttl)

	if err := m.Set(ctx, key, entry); err != nil {
		CacheErrors.WithLabelValues("touch").Inc()
		return err
	}
	return nil
}

// Resources lists the resource names with a snapshot for a contract, sorted.
func (m *Manager) Resources(ctx context.Context, accountContract string) ([]string, error) {
	prefix := strings.TrimSuffix(ContractPattern(accountContract), "*")

	var resources []string
	iter := m.redis.Scan(ctx, 0, ContractPattern(accountContract), 100).Iterator()
	for iter.Next(ctx) {
		resources = append(resources, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		CacheErrors.WithLabelValues("scan").Inc()
		return nil, fmt.Errorf("redis scan: %w", err)
	}

	sort.Strings(resources)
	return resources, nil
}
