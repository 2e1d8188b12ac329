package proof

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCacheGetOrComputeCoalesces(t *testing.T) {
	cache := NewCache[int](16, time.Minute)

	var computes atomic.Int64
	var wg sync.WaitGroup
	values := make([]int, 20)
	for i := range values {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, _, err := cache.GetOrCompute(context.Background(), "shared", func() (int, error) {
				computes.Add(1)
				time.Sleep(5 * time.Millisecond)
				return 42, nil
			})
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			values[i] = value
		}()
	}
	wg.Wait()

	for i, value := range values {
		if value != 42 {
			t.Fatalf("caller %d got %d", i, value)
		}
	}
	if got := computes.Load(); got != 1 {
		t.Fatalf("expected 1 computation, observed %d", got)
	}
}

func TestCacheHitFlagPerCaller(t *testing.T) {
	cache := NewCache[int](16, time.Minute)

	_, hit, err := cache.GetOrCompute(context.Background(), "key", func() (int, error) {
		return 1, nil
	})
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if hit {
		t.Fatal("computing caller reported a hit")
	}

	_, hit, err = cache.GetOrCompute(context.Background(), "key", func() (int, error) {
		t.Error("cached key recomputed")
		return 0, nil
	})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !hit {
		t.Fatal("cached key reported a miss")
	}

	// Under coalescing only the callers whose computation actually ran may
	// report a miss, however many join the flight.
	var computes, misses atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, hit, err := cache.GetOrCompute(context.Background(), "shared", func() (int, error) {
				computes.Add(1)
				time.Sleep(5 * time.Millisecond)
				return 42, nil
			})
			if err != nil {
				t.Errorf("coalesced caller: %v", err)
				return
			}
			if !hit {
				misses.Add(1)
			}
		}()
	}
	wg.Wait()

	if got, want := misses.Load(), computes.Load(); got != want {
		t.Fatalf("%d callers reported misses, %d computations ran", got, want)
	}
}

func TestCacheExpiresByTTL(t *testing.T) {
	cache := NewCache[string](16, 10*time.Millisecond)
	cache.Set("key", "value")

	if value, ok := cache.Get("key"); !ok || value != "value" {
		t.Fatalf("fresh entry missing: %q %v", value, ok)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := cache.Get("key"); ok {
		t.Fatal("expired entry still resident")
	}
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	cache := NewCache[int](16, time.Minute)
	boom := errors.New("boom")

	_, _, err := cache.GetOrCompute(context.Background(), "key", func() (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected compute error, got %v", err)
	}

	value, hit, err := cache.GetOrCompute(context.Background(), "key", func() (int, error) {
		return 7, nil
	})
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if hit {
		t.Fatal("failed computation must not populate the cache")
	}
	if value != 7 {
		t.Fatalf("value = %d, want 7", value)
	}
}

func TestCacheClearAndDelete(t *testing.T) {
	cache := NewCache[string](16, time.Minute)
	cache.Set("a", "1")
	cache.Set("b", "2")

	cache.Delete("a")
	if _, ok := cache.Get("a"); ok {
		t.Fatal("deleted entry still resident")
	}
	if _, ok := cache.Get("b"); !ok {
		t.Fatal("unrelated entry was dropped")
	}

	cache.Clear()
	if _, ok := cache.Get("b"); ok {
		t.Fatal("cleared entry still resident")
	}
}

func TestCacheHonoursContextCancellation(t *testing.T) {
	cache := NewCache[int](16, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	_, _, err := cache.GetOrCompute(ctx, "slow", func() (int, error) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
