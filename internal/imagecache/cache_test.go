package imagecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// countingFetcher serves fixed payloads and counts fetches per URL.
type countingFetcher struct {
	mutex    sync.Mutex
	payloads map[string][]byte
	counts   map[string]int
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{
		payloads: make(map[string][]byte),
		counts:   make(map[string]int),
	}
}

func (f *countingFetcher) add(url string, size int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(len(url))
	}
	f.payloads[url] = data
}

func (f *countingFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.counts[url]++
	data, ok := f.payloads[url]
	if !ok {
		return nil, errors.New("no such image")
	}
	return data, nil
}

func (f *countingFetcher) count(url string) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.counts[url]
}

func TestCacheLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("MissFetchesThenHitsServeFromMemory", func(t *testing.T) {
		fetcher := newCountingFetcher()
		fetcher.add("http://img/a.jpg", 100)
		cache := NewCache(fetcher, 1024, 512, 2)

		first, err := cache.Load(ctx, "http://img/a.jpg")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		second, err := cache.Load(ctx, "http://img/a.jpg")
		if err != nil {
			t.Fatalf("Second load failed: %v", err)
		}

		if !bytes.Equal(first, second) {
			t.Error("Expected identical bytes on repeated loads")
		}
		if got := fetcher.count("http://img/a.jpg"); got != 1 {
			t.Errorf("Expected 1 fetch, got %d", got)
		}
	})

	t.Run("FetchErrorPropagatesAndCachesNothing", func(t *testing.T) {
		fetcher := newCountingFetcher()
		cache := NewCache(fetcher, 1024, 512, 2)

		if _, err := cache.Load(ctx, "http://img/missing.jpg"); err == nil {
			t.Fatal("Expected error for unknown image")
		}
		if cache.Size() != 0 {
			t.Errorf("Expected empty cache after failed fetch, got %d entries", cache.Size())
		}
	})

	t.Run("KeysAreExactURLStrings", func(t *testing.T) {
		fetcher := newCountingFetcher()
		fetcher.add("http://img/a.jpg", 10)
		fetcher.add("http://img/a.jpg?w=200", 20)
		cache := NewCache(fetcher, 1024, 512, 2)

		if _, err := cache.Load(ctx, "http://img/a.jpg"); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if _, err := cache.Load(ctx, "http://img/a.jpg?w=200"); err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if cache.Size() != 2 {
			t.Errorf("Expected 2 entries for distinct URL strings, got %d", cache.Size())
		}
	})
}

func TestCacheTrim(t *testing.T) {
	ctx := context.Background()

	t.Run("CrossingLimitTrimsToTarget", func(t *testing.T) {
		fetcher := newCountingFetcher()
		cache := NewCache(fetcher, 1000, 600, 2)

		for i := 0; i < 5; i++ {
			url := fmt.Sprintf("http://img/%d.jpg", i)
			fetcher.add(url, 200)
			if _, err := cache.Load(ctx, url); err != nil {
				t.Fatalf("Load %d failed: %v", i, err)
			}
		}
		if cache.Bytes() != 1000 {
			t.Fatalf("Expected 1000 bytes before crossing, got %d", cache.Bytes())
		}

		fetcher.add("http://img/5.jpg", 200)
		if _, err := cache.Load(ctx, "http://img/5.jpg"); err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if cache.Bytes() > 600 {
			t.Errorf("Expected trim to 600 bytes, got %d", cache.Bytes())
		}
		if !cache.Contains("http://img/5.jpg") {
			t.Error("Expected newest entry to survive trim")
		}
	})

	t.Run("EvictionIsLeastRecentlyUsed", func(t *testing.T) {
		fetcher := newCountingFetcher()
		cache := NewCache(fetcher, 900, 600, 2)

		for i := 0; i < 3; i++ {
			url := fmt.Sprintf("http://img/%d.jpg", i)
			fetcher.add(url, 300)
			if _, err := cache.Load(ctx, url); err != nil {
				t.Fatalf("Load %d failed: %v", i, err)
			}
		}

		// Touch the oldest entry so it is no longer the eviction candidate.
		if _, ok := cache.Get("http://img/0.jpg"); !ok {
			t.Fatal("Expected entry 0 to be cached")
		}

		fetcher.add("http://img/3.jpg", 300)
		if _, err := cache.Load(ctx, "http://img/3.jpg"); err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if !cache.Contains("http://img/0.jpg") {
			t.Error("Expected recently touched entry to survive")
		}
		if cache.Contains("http://img/1.jpg") {
			t.Error("Expected least recently used entry to be evicted")
		}
	})

	t.Run("ReplacingEntryAdjustsByteAccounting", func(t *testing.T) {
		fetcher := newCountingFetcher()
		cache := NewCache(fetcher, 1000, 600, 2)

		cache.Set("http://img/a.jpg", make([]byte, 400))
		cache.Set("http://img/a.jpg", make([]byte, 100))

		if cache.Bytes() != 100 {
			t.Errorf("Expected 100 bytes after replacement, got %d", cache.Bytes())
		}
		if cache.Size() != 1 {
			t.Errorf("Expected 1 entry, got %d", cache.Size())
		}
	})
}

func TestCacheMemoryPressure(t *testing.T) {
	ctx := context.Background()
	fetcher := newCountingFetcher()
	fetcher.add("http://img/a.jpg", 100)
	fetcher.add("http://img/b.jpg", 100)
	cache := NewCache(fetcher, 1024, 512, 2)

	for _, url := range []string{"http://img/a.jpg", "http://img/b.jpg"} {
		if _, err := cache.Load(ctx, url); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
	}

	cache.HandleMemoryPressure()

	if cache.Size() != 0 || cache.Bytes() != 0 {
		t.Fatalf("Expected empty cache after pressure, got %d entries / %d bytes",
			cache.Size(), cache.Bytes())
	}

	// The next load must go back to the fetcher.
	if _, err := cache.Load(ctx, "http://img/a.jpg"); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if got := fetcher.count("http://img/a.jpg"); got != 2 {
		t.Errorf("Expected re-fetch after purge, got %d fetches", got)
	}
}

func TestCachePrefetch(t *testing.T) {
	ctx := context.Background()

	t.Run("WarmsRequestedURLs", func(t *testing.T) {
		fetcher := newCountingFetcher()
		urls := make([]string, 6)
		for i := range urls {
			urls[i] = fmt.Sprintf("http://img/pre-%d.jpg", i)
			fetcher.add(urls[i], 50)
		}
		cache := NewCache(fetcher, 1024, 512, 3)

		cache.Prefetch(ctx, urls)

		deadline := time.Now().Add(2 * time.Second)
		for cache.Size() < len(urls) && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if cache.Size() != len(urls) {
			t.Fatalf("Expected %d cached entries, got %d", len(urls), cache.Size())
		}
	})

	t.Run("ConcurrentLoadOfSameURLIsSafe", func(t *testing.T) {
		fetcher := newCountingFetcher()
		fetcher.add("http://img/hot.jpg", 50)
		cache := NewCache(fetcher, 1024, 512, 4)

		var wg sync.WaitGroup
		var failures int32
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := cache.Load(ctx, "http://img/hot.jpg"); err != nil {
					atomic.AddInt32(&failures, 1)
				}
			}()
		}
		wg.Wait()

		if failures != 0 {
			t.Fatalf("Expected no load failures, got %d", failures)
		}
		// Duplicate fetches are allowed, a single final entry is required.
		if cache.Size() != 1 {
			t.Errorf("Expected 1 entry, got %d", cache.Size())
		}
		if got := fetcher.count("http://img/hot.jpg"); got < 1 {
			t.Errorf("Expected at least one fetch, got %d", got)
		}
	})
}

func TestPressureMonitorFire(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	monitor := NewPressureMonitor(1<<40, time.Hour, logger)
	var fired int32
	monitor.OnPressure(func() { atomic.AddInt32(&fired, 1) })
	monitor.OnPressure(func() { atomic.AddInt32(&fired, 1) })

	monitor.Fire()

	if fired != 2 {
		t.Errorf("Expected both purge functions to run, got %d", fired)
	}

	monitor.Stop()
	monitor.Stop()
}
