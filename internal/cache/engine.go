// Package cache implements the TTL cache engine layered over a store.Store.
// Entries are JSON envelopes keyed under the @feedstack:cache: namespace and a
// single metadata aggregate tracks their timestamps, expiry and size so expired
// and oversized content can be swept without scanning the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/l0p7/feedstack/internal/metrics"
	"github.com/l0p7/feedstack/internal/store"
)

const (
	// DefaultDuration applies when a write carries no positive duration.
	DefaultDuration = time.Hour
	// MaxCacheSize is the default ceiling on the aggregate entry size.
	MaxCacheSize int64 = 50 * 1024 * 1024
	// LowWaterRatio is the fraction of the ceiling Cleanup evicts down to.
	LowWaterRatio = 0.8
)

// Options configures an Engine. Zero values fall back to the package defaults.
type Options struct {
	Store           store.Store
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
	Now             func() time.Time
	DefaultDuration time.Duration
	MaxSize         int64
	LowWaterRatio   float64
}

// Engine is safe for concurrent use within one process. Every mutation of the
// metadata aggregate happens under mu.
type Engine struct {
	store   store.Store
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time

	mu sync.Mutex

	limitsMu        sync.RWMutex
	defaultDuration time.Duration
	maxSize         int64
	lowWaterRatio   float64
}

// New builds an Engine over opts.Store.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("cache: store required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		store:           opts.Store,
		logger:          logger.With(slog.String("component", "cache")),
		metrics:         opts.Metrics,
		now:             now,
		defaultDuration: DefaultDuration,
		maxSize:         MaxCacheSize,
		lowWaterRatio:   LowWaterRatio,
	}
	e.SetLimits(opts.MaxSize, opts.LowWaterRatio, opts.DefaultDuration)
	return e, nil
}

// SetLimits swaps the size ceiling, low-water ratio and default duration.
// Non-positive values (and ratios above 1) leave the current setting in place.
func (e *Engine) SetLimits(maxSize int64, lowWaterRatio float64, defaultDuration time.Duration) {
	e.limitsMu.Lock()
	defer e.limitsMu.Unlock()
	if maxSize > 0 {
		e.maxSize = maxSize
	}
	if lowWaterRatio > 0 && lowWaterRatio <= 1 {
		e.lowWaterRatio = lowWaterRatio
	}
	if defaultDuration > 0 {
		e.defaultDuration = defaultDuration
	}
}

// Limits reports the active size ceiling, low-water ratio and default duration.
func (e *Engine) Limits() (maxSize int64, lowWaterRatio float64, defaultDuration time.Duration) {
	e.limitsMu.RLock()
	defer e.limitsMu.RUnlock()
	return e.maxSize, e.lowWaterRatio, e.defaultDuration
}

// Set stores data under key for duration. Failures are logged and dropped.
func Set[T any](ctx context.Context, e *Engine, key string, data T, duration time.Duration) {
	start := time.Now()
	now := e.now()
	if duration <= 0 {
		_, _, duration = e.Limits()
	}
	if duration < time.Millisecond {
		duration = time.Millisecond
	}
	entry := Entry[T]{
		Data:      data,
		Timestamp: now.UnixMilli(),
		ExpiresAt: now.Add(duration).UnixMilli(),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		e.fail(key, metrics.CacheOperationSet, start, fmt.Errorf("cache: encode entry: %w", err))
		return
	}
	if err := e.write(ctx, key, payload, entry.Timestamp, entry.ExpiresAt); err != nil {
		e.fail(key, metrics.CacheOperationSet, start, err)
		return
	}
	e.observe(namespaceOf(key), metrics.CacheOperationSet, metrics.CacheResultStored, start)
}

// Get returns the live payload stored under key. Expired entries are removed
// and reported as absent.
func Get[T any](ctx context.Context, e *Engine, key string) (T, bool) {
	entry, ok := Lookup[T](ctx, e, key)
	return entry.Data, ok
}

// Lookup behaves like Get but also returns the write and expiry timestamps.
func Lookup[T any](ctx context.Context, e *Engine, key string) (Entry[T], bool) {
	start := time.Now()
	raw, found, err := e.store.GetItem(ctx, key)
	if err != nil {
		e.fail(key, metrics.CacheOperationGet, start, fmt.Errorf("cache: read entry: %w", err))
		return Entry[T]{}, false
	}
	if !found {
		e.observe(namespaceOf(key), metrics.CacheOperationGet, metrics.CacheResultMiss, start)
		return Entry[T]{}, false
	}

	var entry Entry[T]
	if err := json.Unmarshal(raw, &entry); err != nil {
		e.fail(key, metrics.CacheOperationGet, start, fmt.Errorf("cache: decode entry: %w", err))
		return Entry[T]{}, false
	}
	if entry.Expired(e.now()) {
		if err := e.removeStale(ctx, key); err != nil {
			e.logger.Warn("cache stale entry removal failed", slog.String("cache_key", key), slog.Any("error", err))
		}
		e.observe(namespaceOf(key), metrics.CacheOperationGet, metrics.CacheResultStale, start)
		return Entry[T]{}, false
	}

	e.observe(namespaceOf(key), metrics.CacheOperationGet, metrics.CacheResultHit, start)
	return entry, true
}

// Remove deletes key and its metadata record. Removing an absent key is a no-op.
func (e *Engine) Remove(ctx context.Context, key string) {
	start := time.Now()
	if err := e.remove(ctx, key); err != nil {
		e.fail(key, metrics.CacheOperationRemove, start, err)
		return
	}
	e.observe(namespaceOf(key), metrics.CacheOperationRemove, metrics.CacheResultRemoved, start)
}

// IsValid reports whether key holds an unexpired entry. It never mutates state.
func (e *Engine) IsValid(ctx context.Context, key string) bool {
	raw, found, err := e.store.GetItem(ctx, key)
	if err != nil || !found {
		return false
	}
	var entry Entry[json.RawMessage]
	if err := json.Unmarshal(raw, &entry); err != nil {
		return false
	}
	return !entry.Expired(e.now())
}

// Metadata returns the current aggregate, or an empty one when unavailable.
func (e *Engine) Metadata(ctx context.Context) Metadata {
	meta, err := e.loadMetadata(ctx)
	if err != nil {
		e.logger.Warn("cache metadata read failed", slog.Any("error", err))
		return Metadata{}
	}
	return meta
}

// Size returns the sum of recorded entry sizes in bytes.
func (e *Engine) Size(ctx context.Context) int64 {
	return e.Metadata(ctx).TotalSize()
}

// Stats reports occupancy along with the total number of keys in the store.
func (e *Engine) Stats(ctx context.Context) Stats {
	meta := e.Metadata(ctx)
	maxSize, _, _ := e.Limits()
	stats := Stats{
		SizeBytes:    meta.TotalSize(),
		MaxSizeBytes: maxSize,
		Entries:      len(meta),
	}
	keys, err := e.store.GetAllKeys(ctx)
	if err != nil {
		e.logger.Warn("cache key listing failed", slog.Any("error", err))
		return stats
	}
	stats.StoredKeys = len(keys)
	return stats
}

// ClearExpired removes every entry whose expiry has passed and returns how
// many were dropped.
func (e *Engine) ClearExpired(ctx context.Context) int {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	meta, err := e.loadMetadata(ctx)
	if err != nil {
		e.fail("", metrics.CacheOperationClearExpired, start, err)
		return 0
	}
	nowMs := e.now().UnixMilli()
	expired := make([]string, 0)
	for key, m := range meta {
		if nowMs > m.ExpiresAt {
			expired = append(expired, key)
		}
	}
	if len(expired) == 0 {
		e.observe("all", metrics.CacheOperationClearExpired, metrics.CacheResultNoop, start)
		return 0
	}
	sort.Strings(expired)

	if err := e.dropLocked(ctx, meta, expired); err != nil {
		e.fail("", metrics.CacheOperationClearExpired, start, err)
		return 0
	}
	e.metrics.AddEvicted(metrics.EvictionExpired, len(expired))
	e.observe("all", metrics.CacheOperationClearExpired, metrics.CacheResultRemoved, start)
	e.logger.Debug("cache expired entries cleared", slog.Int("count", len(expired)))
	return len(expired)
}

// ClearAll removes every tracked entry, any untracked key under the cache
// prefix, and the aggregate itself. It returns the number of entries removed.
func (e *Engine) ClearAll(ctx context.Context) int {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	meta, err := e.loadMetadata(ctx)
	if err != nil {
		e.fail("", metrics.CacheOperationClearAll, start, err)
		return 0
	}
	seen := make(map[string]struct{}, len(meta))
	keys := make([]string, 0, len(meta))
	for key := range meta {
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if all, err := e.store.GetAllKeys(ctx); err == nil {
		for _, key := range all {
			if _, ok := seen[key]; ok || !strings.HasPrefix(key, store.KeyCachePrefix) {
				continue
			}
			keys = append(keys, key)
		}
	} else {
		e.logger.Warn("cache key listing failed", slog.Any("error", err))
	}
	sort.Strings(keys)

	if len(keys) > 0 {
		if err := e.store.MultiRemove(ctx, keys); err != nil {
			e.fail("", metrics.CacheOperationClearAll, start, fmt.Errorf("cache: remove entries: %w", err))
			return 0
		}
	}
	if err := e.store.RemoveItem(ctx, store.KeyCacheMetadata); err != nil {
		e.fail("", metrics.CacheOperationClearAll, start, fmt.Errorf("cache: remove metadata: %w", err))
		return 0
	}
	e.metrics.SetCacheSize(0)
	e.metrics.AddEvicted(metrics.EvictionCleared, len(keys))
	e.observe("all", metrics.CacheOperationClearAll, metrics.CacheResultRemoved, start)
	return len(keys)
}

// Cleanup evicts the least recently written entries once the aggregate size
// exceeds the ceiling, stopping at the low-water mark. It returns the number
// of evicted entries.
func (e *Engine) Cleanup(ctx context.Context) int {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	meta, err := e.loadMetadata(ctx)
	if err != nil {
		e.fail("", metrics.CacheOperationCleanup, start, err)
		return 0
	}
	evicted, err := e.cleanupLocked(ctx, meta)
	if err != nil {
		e.fail("", metrics.CacheOperationCleanup, start, err)
		return 0
	}
	result := metrics.CacheResultNoop
	if evicted > 0 {
		result = metrics.CacheResultRemoved
	}
	e.observe("all", metrics.CacheOperationCleanup, result, start)
	return evicted
}

func (e *Engine) write(ctx context.Context, key string, payload []byte, timestamp, expiresAt int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.SetItem(ctx, key, payload); err != nil {
		return fmt.Errorf("cache: write entry: %w", err)
	}
	meta, err := e.loadMetadata(ctx)
	if err != nil {
		return err
	}
	meta[key] = MetadataEntry{Timestamp: timestamp, ExpiresAt: expiresAt, Size: int64(len(payload))}
	if err := e.saveMetadata(ctx, meta); err != nil {
		return err
	}

	maxSize, _, _ := e.Limits()
	if meta.TotalSize() <= maxSize {
		return nil
	}
	if _, err := e.cleanupLocked(ctx, meta); err != nil {
		e.logger.Warn("cache cleanup after write failed", slog.String("cache_key", key), slog.Any("error", err))
	}
	return nil
}

func (e *Engine) remove(ctx context.Context, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLocked(ctx, key)
}

// removeStale drops key unless a concurrent write refreshed it after the read.
func (e *Engine) removeStale(ctx context.Context, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	meta, err := e.loadMetadata(ctx)
	if err != nil {
		return err
	}
	if m, ok := meta[key]; ok && e.now().UnixMilli() <= m.ExpiresAt {
		return nil
	}
	return e.removeLocked(ctx, key)
}

func (e *Engine) removeLocked(ctx context.Context, key string) error {
	if err := e.store.RemoveItem(ctx, key); err != nil {
		return fmt.Errorf("cache: remove entry: %w", err)
	}
	meta, err := e.loadMetadata(ctx)
	if err != nil {
		return err
	}
	if _, ok := meta[key]; !ok {
		return nil
	}
	delete(meta, key)
	return e.saveMetadata(ctx, meta)
}

// cleanupLocked requires mu to be held.
func (e *Engine) cleanupLocked(ctx context.Context, meta Metadata) (int, error) {
	maxSize, ratio, _ := e.Limits()
	total := meta.TotalSize()
	if total <= maxSize {
		return 0, nil
	}

	type candidate struct {
		key       string
		timestamp int64
		size      int64
	}
	candidates := make([]candidate, 0, len(meta))
	for key, m := range meta {
		candidates = append(candidates, candidate{key: key, timestamp: m.Timestamp, size: m.Size})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].timestamp != candidates[j].timestamp {
			return candidates[i].timestamp < candidates[j].timestamp
		}
		return candidates[i].key < candidates[j].key
	})

	lowWater := int64(float64(maxSize) * ratio)
	victims := make([]string, 0)
	for _, c := range candidates {
		if total <= lowWater {
			break
		}
		victims = append(victims, c.key)
		total -= c.size
	}
	if len(victims) == 0 {
		return 0, nil
	}
	if err := e.dropLocked(ctx, meta, victims); err != nil {
		return 0, err
	}
	e.metrics.AddEvicted(metrics.EvictionSize, len(victims))
	e.logger.Info("cache size cleanup evicted entries",
		slog.Int("count", len(victims)),
		slog.Int64("size_bytes", total),
		slog.Int64("max_size_bytes", maxSize),
	)
	return len(victims), nil
}

// dropLocked removes keys from the store and the aggregate in one batch each.
func (e *Engine) dropLocked(ctx context.Context, meta Metadata, keys []string) error {
	if err := e.store.MultiRemove(ctx, keys); err != nil {
		return fmt.Errorf("cache: remove entries: %w", err)
	}
	for _, key := range keys {
		delete(meta, key)
	}
	return e.saveMetadata(ctx, meta)
}

func (e *Engine) loadMetadata(ctx context.Context) (Metadata, error) {
	raw, found, err := e.store.GetItem(ctx, store.KeyCacheMetadata)
	if err != nil {
		return nil, fmt.Errorf("cache: read metadata: %w", err)
	}
	if !found || len(raw) == 0 {
		return Metadata{}, nil
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		e.logger.Warn("cache metadata unreadable, rebuilding from stored entries", slog.Any("error", err))
		return e.rebuildMetadata(ctx)
	}
	if meta == nil {
		meta = Metadata{}
	}
	return meta, nil
}

// rebuildMetadata reconstructs the aggregate from the entries under the cache
// prefix. Entries that fail to decode are left out.
func (e *Engine) rebuildMetadata(ctx context.Context) (Metadata, error) {
	keys, err := e.store.GetAllKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: rebuild metadata: %w", err)
	}
	meta := Metadata{}
	for _, key := range keys {
		if !strings.HasPrefix(key, store.KeyCachePrefix) {
			continue
		}
		raw, found, err := e.store.GetItem(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("cache: rebuild metadata: %w", err)
		}
		if !found {
			continue
		}
		var entry Entry[json.RawMessage]
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		meta[key] = MetadataEntry{Timestamp: entry.Timestamp, ExpiresAt: entry.ExpiresAt, Size: int64(len(raw))}
	}
	return meta, nil
}

func (e *Engine) saveMetadata(ctx context.Context, meta Metadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("cache: encode metadata: %w", err)
	}
	if err := e.store.SetItem(ctx, store.KeyCacheMetadata, payload); err != nil {
		return fmt.Errorf("cache: write metadata: %w", err)
	}
	e.metrics.SetCacheSize(meta.TotalSize())
	return nil
}

func (e *Engine) observe(namespace string, op metrics.CacheOperation, result metrics.CacheResult, start time.Time) {
	e.metrics.ObserveCache(namespace, op, result, time.Since(start))
}

func (e *Engine) fail(key string, op metrics.CacheOperation, start time.Time, err error) {
	namespace := "all"
	attrs := []any{slog.String("operation", string(op)), slog.Any("error", err)}
	if key != "" {
		namespace = namespaceOf(key)
		attrs = append(attrs, slog.String("cache_key", key))
	}
	e.logger.Error("cache operation failed", attrs...)
	e.observe(namespace, op, metrics.CacheResultError, start)
}
