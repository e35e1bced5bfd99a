package permission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testSnapshot(principalID int64) *Snapshot {
	return &Snapshot{PrincipalID: principalID, LoadedAt: time.Now()}
}

func countingLoader(calls *atomic.Int64) SnapshotLoader {
	return func(_ context.Context, principalID int64) (*Snapshot, error) {
		calls.Add(1)
		return testSnapshot(principalID), nil
	}
}

func TestGrantCacheMemoizes(t *testing.T) {
	cache := NewGrantCache(nil)
	ctx := context.Background()
	var calls atomic.Int64

	_, err := cache.Get(ctx, 1, countingLoader(&calls))
	require.NoError(t, err)
	_, err = cache.Get(ctx, 1, countingLoader(&calls))
	require.NoError(t, err)
	require.Equal(t, int64(1), calls.Load())

	require.NoError(t, cache.Invalidate(ctx, 1))
	_, err = cache.Get(ctx, 1, countingLoader(&calls))
	require.NoError(t, err)
	require.Equal(t, int64(2), calls.Load())
}

func TestGrantCacheCollapsesConcurrentLoads(t *testing.T) {
	cache := NewGrantCache(nil)
	ctx := context.Background()

	var calls atomic.Int64
	release := make(chan struct{})
	loader := func(_ context.Context, principalID int64) (*Snapshot, error) {
		calls.Add(1)
		<-release
		return testSnapshot(principalID), nil
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(ctx, 42, loader)
			require.NoError(t, err)
		}()
	}
	// Let the goroutines pile onto the singleflight before releasing.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int64(1), calls.Load())
}

func TestGrantCacheInvalidationDuringLoad(t *testing.T) {
	cache := NewGrantCache(nil)
	ctx := context.Background()

	var calls atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	loader := func(_ context.Context, principalID int64) (*Snapshot, error) {
		n := calls.Add(1)
		if n == 1 {
			close(started)
			<-release
		}
		return &Snapshot{PrincipalID: principalID, LoadedAt: time.Unix(n, 0)}, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := cache.Get(ctx, 1, loader)
		require.NoError(t, err)
	}()

	// Evict while the first load is in flight, then release it. The stale
	// result must not land in the map behind the eviction.
	<-started
	require.NoError(t, cache.Invalidate(ctx, 1))
	close(release)
	<-done

	snap, err := cache.Get(ctx, 1, loader)
	require.NoError(t, err)
	require.Equal(t, int64(2), calls.Load())
	require.Equal(t, time.Unix(2, 0), snap.LoadedAt)
}

func TestGrantCacheCrossProcessInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = clientA.Close()
		_ = clientB.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := NewGrantCache(clientA)
	reader := NewGrantCache(clientB)
	reader.Listen(ctx)
	// Give the subscriber a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)

	var calls atomic.Int64
	_, err := reader.Get(ctx, 7, countingLoader(&calls))
	require.NoError(t, err)
	require.Equal(t, 1, reader.Len())

	require.NoError(t, writer.Invalidate(ctx, 7))

	require.Eventually(t, func() bool {
		return reader.Len() == 0
	}, 2*time.Second, 10*time.Millisecond, "reader should evict principal 7 after the writer's signal")

	_, err = reader.Get(ctx, 7, countingLoader(&calls))
	require.NoError(t, err)
	require.Equal(t, int64(2), calls.Load())
}

func TestGrantCacheIgnoresOwnSignal(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache := NewGrantCache(client)
	cache.Listen(ctx)
	time.Sleep(50 * time.Millisecond)

	// The local eviction happens synchronously; the published message must
	// not be re-applied by the same instance.
	cache.apply(cache.instance + ":7")
	var calls atomic.Int64
	_, err := cache.Get(ctx, 7, countingLoader(&calls))
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, 7))
	require.Equal(t, 0, cache.Len())
}

func TestGrantCacheMetricsHooks(t *testing.T) {
	var hits, misses atomic.Int64
	cache := NewGrantCache(nil, WithCacheMetrics(
		func() { hits.Add(1) },
		func() { misses.Add(1) },
	))
	ctx := context.Background()
	var calls atomic.Int64

	_, err := cache.Get(ctx, 1, countingLoader(&calls))
	require.NoError(t, err)
	_, err = cache.Get(ctx, 1, countingLoader(&calls))
	require.NoError(t, err)

	require.Equal(t, int64(1), hits.Load())
	require.Equal(t, int64(1), misses.Load())
}
