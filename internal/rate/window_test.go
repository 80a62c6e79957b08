package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
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
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func exerciseLimiter(t *testing.T, l Limiter, clock *fakeClock) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		ok, err := l.Allow(ctx, "alice@example.com")
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if !ok {
			t.Fatalf("attempt %d rejected", i+1)
		}
		clock.Advance(time.Second)
	}

	ok, err := l.Allow(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("11th attempt: %v", err)
	}
	if ok {
		t.Fatal("11th attempt inside the window must be rejected")
	}

	ok, _ = l.Allow(ctx, "bob@example.com")
	if !ok {
		t.Fatal("other key must not share the window")
	}

	// Attempts sit at t=0..9s. At t=60s only the first one has expired.
	clock.Advance(50 * time.Second)
	ok, _ = l.Allow(ctx, "alice@example.com")
	if !ok {
		t.Fatal("expected room once the oldest attempt slid out")
	}
	ok, _ = l.Allow(ctx, "alice@example.com")
	if ok {
		t.Fatal("window should be full again")
	}
}

func TestWindowSlides(t *testing.T) {
	clock := newClock()
	exerciseLimiter(t, NewWindow(Config{}, clock.Now), clock)
}

func TestRedisWindowSlides(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	clock := newClock()
	exerciseLimiter(t, NewRedisWindow(rdb, Config{}, clock.Now), clock)
}

func TestRedisWindowUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	_, err := NewRedisWindow(rdb, Config{}, nil).Allow(context.Background(), "k")
	if err == nil {
		t.Fatal("expected error with redis down")
	}
}

func TestWindowConcurrentSameKey(t *testing.T) {
	w := NewWindow(Config{Window: time.Minute, Limit: 10}, nil)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := w.Allow(context.Background(), "shared")
			if ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 10 {
		t.Fatalf("admitted %d attempts, want 10", admitted)
	}
	if got := w.Count("shared"); got != 10 {
		t.Fatalf("count = %d, want 10", got)
	}
}
