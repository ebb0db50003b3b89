package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func TestGetAfterExpiryIsMiss(t *testing.T) {
	t.Parallel()

	clock := newClock()
	c := New(WithClock(clock.Now))

	c.Set("k", "v1", 10*time.Second)
	if v, ok := c.Get("k"); !ok || v != "v1" {
		t.Fatalf("Get() = %v, %v; want v1, true", v, ok)
	}

	clock.Advance(10 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss at expiry boundary")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry to be dropped, len=%d", c.Len())
	}

	c.Set("k", "v2", 10*time.Second)
	if v, ok := c.Get("k"); !ok || v != "v2" {
		t.Fatalf("Get() after Set = %v, %v; want v2, true", v, ok)
	}
}

func TestSetOverwritesAndResetsExpiry(t *testing.T) {
	t.Parallel()

	clock := newClock()
	c := New(WithClock(clock.Now))

	c.Set("k", "old", 5*time.Second)
	clock.Advance(4 * time.Second)
	c.Set("k", "new", 5*time.Second)
	clock.Advance(4 * time.Second)

	v, ok := c.Get("k")
	if !ok || v != "new" {
		t.Fatalf("Get() = %v, %v; want new, true", v, ok)
	}
}

func TestDefaultTTLUsedForNonPositive(t *testing.T) {
	t.Parallel()

	clock := newClock()
	c := New(WithClock(clock.Now), WithDefaultTTL(time.Minute))

	c.Set("k", 1, 0)
	clock.Advance(59 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected hit before default ttl")
	}
	clock.Advance(time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss after default ttl")
	}
}

func TestCapacityEvictsExpiredFirstThenEarliestExpiry(t *testing.T) {
	t.Parallel()

	clock := newClock()
	c := New(WithClock(clock.Now), WithCapacity(2))

	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)
	clock.Advance(2 * time.Second)

	c.Set("third", 3, time.Hour)
	if _, ok := c.Get("long"); !ok {
		t.Fatal("expected long-lived entry to survive sweep of expired entry")
	}

	c.Set("fourth", 4, 2*time.Hour)
	if c.Len() != 2 {
		t.Fatalf("expected capacity to hold at 2, got %d", c.Len())
	}
	if _, ok := c.Get("fourth"); !ok {
		t.Fatal("expected newest entry present")
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	c := New()
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Len())
	}
}

func TestRememberComputesOnce(t *testing.T) {
	t.Parallel()

	c := New()
	var calls atomic.Int32
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "value", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Remember(context.Background(), "key", time.Minute, fn)
			if err != nil || v != "value" {
				t.Errorf("Remember() = %v, %v", v, err)
			}
		}()
	}
	wg.Wait()

	if _, err := c.Remember(context.Background(), "key", time.Minute, fn); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected fn called once, got %d", calls.Load())
	}
}

func TestRememberDoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	c := New()
	boom := errors.New("boom")
	calls := 0
	fn := func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return "ok", nil
	}

	if _, err := c.Remember(context.Background(), "k", time.Minute, fn); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	v, err := c.Remember(context.Background(), "k", time.Minute, fn)
	if err != nil || v != "ok" {
		t.Fatalf("Remember() = %v, %v; want ok", v, err)
	}
}

func TestNilCacheIsAlwaysMiss(t *testing.T) {
	t.Parallel()

	var c *Cache
	c.Set("k", 1, time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatal("nil cache must miss")
	}
	v, err := c.Remember(context.Background(), "k", time.Minute, func(context.Context) (any, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("Remember() = %v, %v", v, err)
	}
}

func TestRememberSurvivesStarterCancel(t *testing.T) {
	t.Parallel()

	c := New()
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		close(started)
		select {
		case <-release:
			return "value", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	starterCtx, cancel := context.WithCancel(context.Background())
	starterErr := make(chan error, 1)
	go func() {
		_, err := c.Remember(starterCtx, "k", time.Minute, fn)
		starterErr <- err
	}()
	<-started

	waiter := make(chan any, 1)
	go func() {
		v, err := c.Remember(context.Background(), "k", time.Minute, fn)
		if err != nil {
			t.Errorf("waiter Remember() error = %v", err)
		}
		waiter <- v
	}()

	cancel()
	if err := <-starterErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("starter error = %v, want context.Canceled", err)
	}
	close(release)

	if v := <-waiter; v != "value" {
		t.Fatalf("waiter got %v, want value", v)
	}
	if v, ok := c.Get("k"); !ok || v != "value" {
		t.Fatalf("Get() = %v, %v; want cached value", v, ok)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected fn called once, got %d", calls.Load())
	}
}

func TestRememberComputeTimeout(t *testing.T) {
	t.Parallel()

	c := New(WithComputeTimeout(20 * time.Millisecond))
	_, err := c.Remember(context.Background(), "k", time.Minute, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Remember() error = %v, want deadline exceeded", err)
	}
}

func TestKeyQuotesValues(t *testing.T) {
	t.Parallel()

	a := Key("check_availability", "start_date", "2025-05-01::end_date=2025-05-05")
	b := Key("check_availability", "start_date", "2025-05-01", "end_date", "2025-05-05")
	if a == b {
		t.Fatalf("keys collide: %q", a)
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	got := Key("check_availability", "start_date", "2025-05-01", "end_date", "2025-05-05")
	want := `check_availability::start_date="2025-05-01"::end_date="2025-05-05"`
	if got != want {
		t.Fatalf("Key() = %q, want %q", got, want)
	}
	if Key("tts", "0cc175b9") != "tts::0cc175b9" {
		t.Fatal("unpaired value must be unchanged")
	}
	if Key("servicetitan_access_token") != "servicetitan_access_token" {
		t.Fatal("sentinel key must be unchanged")
	}
}
