package fitauth

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pitabwire/util"
)

const maxRiskCacheEntries = 10000

// analyticsWorker refreshes cached risk profiles after login attempts. It
// runs off the login path; a full queue drops the refresh.
type analyticsWorker struct {
	engine *Engine
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]RiskProfile

	ch        chan string
	done      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func newAnalyticsWorker(e *Engine, queueSize int, ttl time.Duration) *analyticsWorker {
	if queueSize <= 0 {
		queueSize = 1
	}
	w := &analyticsWorker{
		engine: e,
		ttl:    ttl,
		cache:  make(map[string]RiskProfile),
		ch:     make(chan string, queueSize),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Enqueue schedules a refresh of userID's risk profile.
func (w *analyticsWorker) Enqueue(userID string) {
	if w == nil || w.closed.Load() || userID == "" {
		return
	}
	select {
	case w.ch <- userID:
	default:
		w.dropped.Add(1)
	}
}

func (w *analyticsWorker) run() {
	defer w.wg.Done()
	for {
		select {
		case id := <-w.ch:
			w.refresh(id)
		case <-w.done:
			return
		}
	}
}

func (w *analyticsWorker) refresh(userID string) {
	ctx := context.Background()
	rp, err := w.engine.computeRisk(ctx, userID, w.engine.adaptivePeriod)
	if err != nil {
		util.Log(ctx).WithError(err).WithField("user_id", userID).Warn("analytics: risk refresh failed")
		return
	}
	w.put(rp)
}

func (w *analyticsWorker) put(rp RiskProfile) {
	if w == nil {
		return
	}
	w.mu.Lock()
	w.cache[rp.UserID] = rp
	if len(w.cache) > maxRiskCacheEntries {
		now := w.engine.now()
		for id, c := range w.cache {
			if now.Sub(c.ComputedAt) > w.ttl {
				delete(w.cache, id)
			}
		}
	}
	w.mu.Unlock()
}

// get returns a cached profile younger than the TTL.
func (w *analyticsWorker) get(userID string) (RiskProfile, bool) {
	if w == nil {
		return RiskProfile{}, false
	}
	w.mu.RLock()
	rp, ok := w.cache[userID]
	w.mu.RUnlock()
	if !ok || w.engine.now().Sub(rp.ComputedAt) > w.ttl {
		return RiskProfile{}, false
	}
	return rp, true
}

// Close stops the worker. Pending refreshes are discarded.
func (w *analyticsWorker) Close() {
	if w == nil {
		return
	}
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.done)
		w.wg.Wait()
	})
}
