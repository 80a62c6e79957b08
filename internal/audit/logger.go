package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pitabwire/util"
)

// ErrClosed is returned by [Logger.Log] after Close.
var ErrClosed = errors.New("audit logger closed")

// Config controls how the logger writes to its store.
type Config struct {
	// Async hands entries to a background goroutine instead of writing inline.
	Async      bool
	BufferSize int
	// DropIfFull drops entries when the async buffer is full instead of blocking.
	DropIfFull   bool
	WriteTimeout time.Duration
	ChainKey     []byte
}

// Logger seals entries into the chain and persists them. A write failure is
// logged and counted but never returned to the authentication flow.
type Logger struct {
	cfg   Config
	store Store
	chain *Chain

	// writeMu serializes seal + create so the chain order matches storage order.
	writeMu sync.Mutex

	ch        chan Entry
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failures  atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once

	onFailure func(error)
}

// NewLogger builds a logger over store. The chain head is resumed from the
// newest stored entry when the store is reachable.
func NewLogger(ctx context.Context, cfg Config, store Store) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}

	l := &Logger{
		cfg:   cfg,
		store: store,
		chain: NewChain(cfg.ChainKey),
		done:  make(chan struct{}),
	}

	rctx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
	defer cancel()
	if err := l.chain.Resume(rctx, store); err != nil {
		util.Log(ctx).WithError(err).Warn("audit: could not resume chain head")
	}

	if cfg.Async {
		l.ch = make(chan Entry, cfg.BufferSize)
		l.wg.Add(1)
		go l.run()
	}
	return l
}

// OnFailure registers a hook invoked after every failed write.
func (l *Logger) OnFailure(fn func(error)) {
	l.onFailure = fn
}

// Chain exposes the chain used to seal entries.
func (l *Logger) Chain() *Chain {
	return l.chain
}

// Log records e. In synchronous mode the write completes before Log returns.
func (l *Logger) Log(ctx context.Context, e Entry) {
	if l == nil || l.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if !l.cfg.Async {
		l.write(ctx, e)
		return
	}

	if l.cfg.DropIfFull {
		select {
		case l.ch <- e:
		case <-l.done:
		default:
			l.dropped.Add(1)
			util.Log(ctx).WithField("action", e.Action).Warn("audit: buffer full, entry dropped")
		}
		return
	}

	select {
	case l.ch <- e:
	case <-ctx.Done():
		l.dropped.Add(1)
	case <-l.done:
	}
}

func (l *Logger) run() {
	defer l.wg.Done()

	for {
		select {
		case e := <-l.ch:
			l.write(context.Background(), e)
		case <-l.done:
			for {
				select {
				case e := <-l.ch:
					l.write(context.Background(), e)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(ctx context.Context, e Entry) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.WriteTimeout)
	defer cancel()

	l.writeMu.Lock()
	sealed := l.chain.Next(e)
	err := l.store.Create(wctx, sealed)
	if err == nil {
		l.chain.Commit(sealed)
	}
	l.writeMu.Unlock()

	if err != nil {
		l.failures.Add(1)
		util.Log(ctx).WithError(err).
			WithField("action", e.Action).
			WithField("user_id", e.UserID).Error("audit: write failed")
		if l.onFailure != nil {
			l.onFailure(err)
		}
	}
}

// Close drains pending entries and stops the background writer.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.done)
		l.wg.Wait()
	})
}

// Dropped returns the number of entries discarded because the buffer was full.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Failures returns the number of store writes that failed.
func (l *Logger) Failures() uint64 {
	if l == nil {
		return 0
	}
	return l.failures.Load()
}
