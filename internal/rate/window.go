package rate

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultWindow = 60 * time.Second
	DefaultLimit  = 10
)

// Config holds sliding-window tuning parameters.
type Config struct {
	Window time.Duration
	Limit  int
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	return c
}

// Limiter admits or rejects one attempt for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Window is an in-memory sliding-window limiter.
type Window struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	hits  map[string][]time.Time
	calls int
}

// NewWindow returns an in-memory limiter. A nil clock uses time.Now.
func NewWindow(cfg Config, now func() time.Time) *Window {
	if now == nil {
		now = time.Now
	}
	return &Window{
		cfg:  cfg.withDefaults(),
		now:  now,
		hits: make(map[string][]time.Time),
	}
}

// Allow records an attempt for key if the window has room.
func (w *Window) Allow(_ context.Context, key string) (bool, error) {
	now := w.now()
	cutoff := now.Add(-w.cfg.Window)

	w.mu.Lock()
	defer w.mu.Unlock()

	kept := prune(w.hits[key], cutoff)
	if len(kept) >= w.cfg.Limit {
		w.hits[key] = kept
		return false, nil
	}
	w.hits[key] = append(kept, now)

	w.calls++
	if w.calls%1024 == 0 {
		w.sweep(cutoff)
	}
	return true, nil
}

// Count returns the attempts currently inside key's window.
func (w *Window) Count(key string) int {
	cutoff := w.now().Add(-w.cfg.Window)
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(prune(w.hits[key], cutoff))
}

// sweep drops idle keys so the map does not grow without bound.
func (w *Window) sweep(cutoff time.Time) {
	for k, ts := range w.hits {
		if kept := prune(ts, cutoff); len(kept) == 0 {
			delete(w.hits, k)
		} else {
			w.hits[k] = kept
		}
	}
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
