package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/feedstack/internal/logging"
	"github.com/l0p7/feedstack/internal/metrics"
	"github.com/l0p7/feedstack/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type article struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

func newTestEngine(t *testing.T, opts Options) (*Engine, store.Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	if opts.Store == nil {
		opts.Store = store.NewMemory()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	opts.Now = clock.Now
	engine, err := New(opts)
	require.NoError(t, err)
	return engine, opts.Store, clock
}

func entrySize[T any](t *testing.T, data T, at time.Time, duration time.Duration) int64 {
	t.Helper()
	payload, err := json.Marshal(Entry[T]{Data: data, Timestamp: at.UnixMilli(), ExpiresAt: at.Add(duration).UnixMilli()})
	require.NoError(t, err)
	return int64(len(payload))
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t, Options{})

	articles := []article{{Title: "Go 1.25 released", URL: "https://go.dev/blog"}}
	key := GenerateKey("top_headlines", map[string]string{"country": "us", "category": "technology", "query": ""})
	Set(ctx, engine, key, articles, 5*time.Minute)

	got, ok := Get[[]article](ctx, engine, key)
	require.True(t, ok)
	require.Equal(t, articles, got)

	_, ok = Get[[]article](ctx, engine, GenerateKey("top_headlines", map[string]string{"country": "gb"}))
	require.False(t, ok)
}

func TestLookupExposesTimestamps(t *testing.T) {
	ctx := context.Background()
	engine, _, clock := newTestEngine(t, Options{})
	written := clock.Now()

	Set(ctx, engine, "@feedstack:cache:search:q:go", "payload", 10*time.Minute)
	clock.Advance(time.Minute)

	entry, ok := Lookup[string](ctx, engine, "@feedstack:cache:search:q:go")
	require.True(t, ok)
	require.Equal(t, "payload", entry.Data)
	require.Equal(t, written.UnixMilli(), entry.Timestamp)
	require.Equal(t, written.Add(10*time.Minute).UnixMilli(), entry.ExpiresAt)
	require.True(t, entry.StoredAt().Equal(written))
}

func TestSetNonPositiveDurationUsesDefault(t *testing.T) {
	ctx := context.Background()
	engine, _, clock := newTestEngine(t, Options{DefaultDuration: 2 * time.Hour})
	now := clock.Now()

	Set(ctx, engine, "@feedstack:cache:a:", 1, 0)
	Set(ctx, engine, "@feedstack:cache:b:", 1, -time.Second)

	meta := engine.Metadata(ctx)
	require.Equal(t, now.Add(2*time.Hour).UnixMilli(), meta["@feedstack:cache:a:"].ExpiresAt)
	require.Equal(t, now.Add(2*time.Hour).UnixMilli(), meta["@feedstack:cache:b:"].ExpiresAt)
	require.Greater(t, meta["@feedstack:cache:a:"].ExpiresAt, meta["@feedstack:cache:a:"].Timestamp)
}

func TestGetRemovesExpiredEntry(t *testing.T) {
	ctx := context.Background()
	engine, kv, clock := newTestEngine(t, Options{})
	key := "@feedstack:cache:search:language:en|query:go|sortBy:publishedAt"

	Set(ctx, engine, key, []article{{Title: "stale"}}, time.Minute)

	clock.Advance(time.Minute)
	require.True(t, engine.IsValid(ctx, key), "entry is valid up to and including expiresAt")

	clock.Advance(time.Millisecond)
	require.False(t, engine.IsValid(ctx, key))
	_, found, err := kv.GetItem(ctx, key)
	require.NoError(t, err)
	require.True(t, found, "IsValid never mutates")

	_, ok := Get[[]article](ctx, engine, key)
	require.False(t, ok)

	_, found, err = kv.GetItem(ctx, key)
	require.NoError(t, err)
	require.False(t, found)
	require.NotContains(t, engine.Metadata(ctx), key)
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, kv, _ := newTestEngine(t, Options{})
	key := "@feedstack:cache:top_headlines:country:us"

	Set(ctx, engine, key, "x", time.Hour)
	engine.Remove(ctx, key)
	engine.Remove(ctx, key)
	engine.Remove(ctx, "@feedstack:cache:never:written")

	_, ok := Get[string](ctx, engine, key)
	require.False(t, ok)
	require.Empty(t, engine.Metadata(ctx))
	_, found, err := kv.GetItem(ctx, key)
	require.NoError(t, err)
	require.False(t, found)
}

func TestSizeSumsSerializedEntries(t *testing.T) {
	ctx := context.Background()
	engine, _, clock := newTestEngine(t, Options{})
	now := clock.Now()

	first := []article{{Title: "one", URL: "https://example.com/1"}}
	second := map[string]int{"total": 42}
	Set(ctx, engine, "@feedstack:cache:a:", first, time.Hour)
	Set(ctx, engine, "@feedstack:cache:b:", second, 30*time.Minute)

	want := entrySize(t, first, now, time.Hour) + entrySize(t, second, now, 30*time.Minute)
	require.Equal(t, want, engine.Size(ctx))

	meta := engine.Metadata(ctx)
	require.Equal(t, entrySize(t, first, now, time.Hour), meta["@feedstack:cache:a:"].Size)
}

func TestCleanupEvictsLeastRecentlyWritten(t *testing.T) {
	ctx := context.Background()
	rec := metrics.NewRecorder(nil)
	engine, kv, clock := newTestEngine(t, Options{MaxSize: 50_000, LowWaterRatio: 0.8, Metrics: rec})

	keys := []string{"@feedstack:cache:t:A", "@feedstack:cache:t:B", "@feedstack:cache:t:C", "@feedstack:cache:t:D"}
	sizes := []int{30_000, 15_000, 10_000, 10_000}
	for i, key := range keys {
		Set(ctx, engine, key, strings.Repeat("x", sizes[i]), time.Hour)
		clock.Advance(time.Second)
	}

	meta := engine.Metadata(ctx)
	require.NotContains(t, meta, keys[0])
	for _, key := range keys[1:] {
		require.Contains(t, meta, key)
		_, ok := Get[string](ctx, engine, key)
		require.True(t, ok, key)
	}
	_, found, err := kv.GetItem(ctx, keys[0])
	require.NoError(t, err)
	require.False(t, found)
	require.LessOrEqual(t, engine.Size(ctx), int64(50_000))
	require.Equal(t, float64(1), counterValue(t, rec, "feedstack_cache_evicted_entries_total", map[string]string{"reason": "size"}))
}

func TestCleanupAfterLoweringLimit(t *testing.T) {
	ctx := context.Background()
	engine, _, clock := newTestEngine(t, Options{})

	keys := []string{"@feedstack:cache:t:A", "@feedstack:cache:t:B", "@feedstack:cache:t:C", "@feedstack:cache:t:D"}
	sizes := []int{30_000, 15_000, 10_000, 10_000}
	for i, key := range keys {
		Set(ctx, engine, key, strings.Repeat("x", sizes[i]), time.Hour)
		clock.Advance(time.Second)
	}
	require.Len(t, engine.Metadata(ctx), 4)
	require.Zero(t, engine.Cleanup(ctx), "under the default ceiling cleanup is a no-op")

	engine.SetLimits(50_000, 0.8, 0)
	require.Equal(t, 1, engine.Cleanup(ctx))

	meta := engine.Metadata(ctx)
	require.NotContains(t, meta, keys[0])
	require.Len(t, meta, 3)
	require.LessOrEqual(t, meta.TotalSize(), int64(40_000))
}

func TestCleanupBreaksTimestampTiesByKey(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t, Options{})

	Set(ctx, engine, "@feedstack:cache:t:b", strings.Repeat("x", 1000), time.Hour)
	Set(ctx, engine, "@feedstack:cache:t:a", strings.Repeat("x", 1000), time.Hour)
	Set(ctx, engine, "@feedstack:cache:t:c", strings.Repeat("x", 1000), time.Hour)

	engine.SetLimits(2500, 0.8, 0)
	require.Equal(t, 2, engine.Cleanup(ctx))
	require.Equal(t, []string{"@feedstack:cache:t:c"}, keysOf(engine.Metadata(ctx)))
}

func TestClearExpiredRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	rec := metrics.NewRecorder(nil)
	engine, kv, clock := newTestEngine(t, Options{Metrics: rec})

	Set(ctx, engine, "@feedstack:cache:t:short", "a", time.Minute)
	Set(ctx, engine, "@feedstack:cache:t:medium", "b", 10*time.Minute)
	Set(ctx, engine, "@feedstack:cache:t:long", "c", time.Hour)
	require.NoError(t, kv.SetItem(ctx, store.KeyBookmarks, []byte(`[]`)))

	clock.Advance(15 * time.Minute)
	require.Equal(t, 2, engine.ClearExpired(ctx))
	require.Zero(t, engine.ClearExpired(ctx))

	require.Equal(t, []string{"@feedstack:cache:t:long"}, keysOf(engine.Metadata(ctx)))
	keys, err := kv.GetAllKeys(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{store.KeyBookmarks, store.KeyCacheMetadata, "@feedstack:cache:t:long"}, keys)
	require.Equal(t, float64(2), counterValue(t, rec, "feedstack_cache_evicted_entries_total", map[string]string{"reason": "expired"}))
}

func TestClearAllRemovesEntriesAndMetadata(t *testing.T) {
	ctx := context.Background()
	engine, kv, _ := newTestEngine(t, Options{})

	Set(ctx, engine, "@feedstack:cache:t:one", 1, time.Hour)
	Set(ctx, engine, "@feedstack:cache:t:two", 2, time.Hour)
	require.NoError(t, kv.SetItem(ctx, "@feedstack:cache:t:orphan", []byte(`{}`)))
	require.NoError(t, kv.SetItem(ctx, store.KeyOnboardingCompleted, []byte(`true`)))

	require.Equal(t, 3, engine.ClearAll(ctx))

	keys, err := kv.GetAllKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{store.KeyOnboardingCompleted}, keys)
	require.Zero(t, engine.Size(ctx))
}

func TestStatsReportsOccupancy(t *testing.T) {
	ctx := context.Background()
	engine, kv, clock := newTestEngine(t, Options{MaxSize: 1 << 20})

	Set(ctx, engine, "@feedstack:cache:t:one", "x", time.Hour)
	require.NoError(t, kv.SetItem(ctx, store.KeyDarkMode, []byte(`true`)))

	stats := engine.Stats(ctx)
	require.Equal(t, 1, stats.Entries)
	require.Equal(t, 3, stats.StoredKeys)
	require.Equal(t, int64(1<<20), stats.MaxSizeBytes)
	require.Equal(t, entrySize(t, "x", clock.Now(), time.Hour), stats.SizeBytes)
}

func TestConcurrentSetsKeepEveryMetadataRecord(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := newTestEngine(t, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			Set(ctx, engine, fmt.Sprintf("@feedstack:cache:t:%02d", i), i, time.Hour)
		}(i)
	}
	wg.Wait()

	require.Len(t, engine.Metadata(ctx), 50)
}

func TestCorruptEntryReadsAsMiss(t *testing.T) {
	ctx := context.Background()
	engine, kv, _ := newTestEngine(t, Options{})
	require.NoError(t, kv.SetItem(ctx, "@feedstack:cache:t:bad", []byte(`not json`)))

	_, ok := Get[string](ctx, engine, "@feedstack:cache:t:bad")
	require.False(t, ok)
	require.False(t, engine.IsValid(ctx, "@feedstack:cache:t:bad"))
}

func TestCorruptMetadataIsRebuiltFromEntries(t *testing.T) {
	ctx := context.Background()
	engine, kv, clock := newTestEngine(t, Options{})
	stale := "@feedstack:cache:t:stale"
	Set(ctx, engine, stale, "a", 5*time.Minute)
	want := engine.Metadata(ctx)[stale]

	require.NoError(t, kv.SetItem(ctx, store.KeyCacheMetadata, []byte(`[`)))
	require.NoError(t, kv.SetItem(ctx, "@feedstack:cache:t:garbage", []byte(`not json`)))
	require.Equal(t, Metadata{stale: want}, engine.Metadata(ctx))

	Set(ctx, engine, "@feedstack:cache:t:fresh", "b", time.Hour)
	require.Equal(t, []string{"@feedstack:cache:t:fresh", stale}, keysOf(engine.Metadata(ctx)))

	clock.Advance(10 * time.Minute)
	require.Equal(t, 1, engine.ClearExpired(ctx))
	_, found, err := kv.GetItem(ctx, stale)
	require.NoError(t, err)
	require.False(t, found)
}

func TestUnencodableSetKeepsPriorState(t *testing.T) {
	ctx := context.Background()
	rec := metrics.NewRecorder(nil)
	engine, _, clock := newTestEngine(t, Options{Metrics: rec})
	key := "@feedstack:cache:search:q:go"

	Set(ctx, engine, key, "old", time.Hour)
	before := engine.Metadata(ctx)

	clock.Advance(time.Minute)
	Set(ctx, engine, key, make(chan int), time.Hour)

	got, ok := Get[string](ctx, engine, key)
	require.True(t, ok)
	require.Equal(t, "old", got)
	require.Equal(t, before, engine.Metadata(ctx))
	require.Equal(t, float64(1), counterValue(t, rec, "feedstack_cache_operations_total", map[string]string{
		"namespace": "search",
		"operation": string(metrics.CacheOperationSet),
		"result":    string(metrics.CacheResultError),
	}))
}

type failingStore struct {
	store.Store
	err error
}

func (f failingStore) SetItem(context.Context, string, []byte) error { return f.err }
func (f failingStore) GetItem(context.Context, string) ([]byte, bool, error) {
	return nil, false, f.err
}

func TestStoreFailuresAreAbsorbed(t *testing.T) {
	ctx := context.Background()
	rec := metrics.NewRecorder(nil)
	engine, _, _ := newTestEngine(t, Options{Store: failingStore{Store: store.NewMemory(), err: errors.New("disk full")}, Metrics: rec})
	key := "@feedstack:cache:search:q:go"

	require.NotPanics(t, func() {
		Set(ctx, engine, key, "x", time.Hour)
		_, ok := Get[string](ctx, engine, key)
		require.False(t, ok)
		engine.Remove(ctx, key)
		require.Zero(t, engine.ClearExpired(ctx))
		require.Zero(t, engine.Cleanup(ctx))
		require.Zero(t, engine.Size(ctx))
	})

	require.Equal(t, float64(1), counterValue(t, rec, "feedstack_cache_operations_total", map[string]string{
		"namespace": "search",
		"operation": string(metrics.CacheOperationSet),
		"result":    string(metrics.CacheResultError),
	}))
	require.Equal(t, float64(1), counterValue(t, rec, "feedstack_cache_operations_total", map[string]string{
		"namespace": "search",
		"operation": string(metrics.CacheOperationGet),
		"result":    string(metrics.CacheResultError),
	}))
}

func TestGetRecordsHitMissAndStale(t *testing.T) {
	ctx := context.Background()
	rec := metrics.NewRecorder(nil)
	engine, _, clock := newTestEngine(t, Options{Metrics: rec})
	key := "@feedstack:cache:top_headlines:country:us"

	_, _ = Get[string](ctx, engine, key)
	Set(ctx, engine, key, "x", time.Minute)
	_, _ = Get[string](ctx, engine, key)
	clock.Advance(2 * time.Minute)
	_, _ = Get[string](ctx, engine, key)

	for _, result := range []metrics.CacheResult{metrics.CacheResultMiss, metrics.CacheResultHit, metrics.CacheResultStale} {
		require.Equal(t, float64(1), counterValue(t, rec, "feedstack_cache_operations_total", map[string]string{
			"namespace": "top_headlines",
			"operation": string(metrics.CacheOperationGet),
			"result":    string(result),
		}), result)
	}
}

func keysOf(meta Metadata) []string {
	out := make([]string, 0, len(meta))
	for key := range meta {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func counterValue(t *testing.T, rec *metrics.Recorder, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := rec.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for key, want := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
