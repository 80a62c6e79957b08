// Package notify delivers security notifications off the request path.
//
// The [Dispatcher] queues messages on a bounded channel, drains them on one
// goroutine and throttles delivery with a token bucket. A failed or dropped
// delivery is logged and counted; callers are never blocked or told.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pitabwire/util"
	"golang.org/x/time/rate"
)

// Message is one notification.
type Message struct {
	UserID  string
	Type    string
	Details map[string]string
}

// Sender is the external delivery channel (email, push).
type Sender interface {
	Send(ctx context.Context, userID, kind string, details map[string]string) error
}

// Config controls buffering and throttling.
type Config struct {
	BufferSize  int
	RatePerSec  float64
	Burst       int
	SendTimeout time.Duration
}

// Dispatcher is a fire-and-forget notification queue.
type Dispatcher struct {
	cfg     Config
	sender  Sender
	limiter *rate.Limiter

	ch        chan Message
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	sent      atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once

	onDrop func()
}

// NewDispatcher starts the delivery goroutine. A nil sender yields a nil
// dispatcher whose methods are no-ops.
func NewDispatcher(cfg Config, sender Sender) *Dispatcher {
	if sender == nil {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}

	d := &Dispatcher{
		cfg:     cfg,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		ch:      make(chan Message, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// OnDrop registers a hook called for every undelivered message.
func (d *Dispatcher) OnDrop(fn func()) {
	if d != nil {
		d.onDrop = fn
	}
}

// Notify queues m without blocking.
func (d *Dispatcher) Notify(ctx context.Context, m Message) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- m:
	default:
		d.drop(ctx, m, nil, "notify: queue full, message dropped")
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case m := <-d.ch:
			d.deliver(m)
		case <-d.done:
			for {
				select {
				case m := <-d.ch:
					d.deliver(m)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(m Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()

	if err := d.limiter.Wait(ctx); err != nil {
		d.drop(ctx, m, err, "notify: throttled, message dropped")
		return
	}
	if err := d.sender.Send(ctx, m.UserID, m.Type, m.Details); err != nil {
		d.failed.Add(1)
		d.drop(ctx, m, err, "notify: delivery failed")
		return
	}
	d.sent.Add(1)
}

func (d *Dispatcher) drop(ctx context.Context, m Message, err error, msg string) {
	d.dropped.Add(1)
	log := util.Log(ctx).WithField("user_id", m.UserID).WithField("type", m.Type)
	if err != nil {
		log = log.WithError(err)
	}
	log.Warn(msg)
	if d.onDrop != nil {
		d.onDrop()
	}
}

// Close delivers queued messages and stops the goroutine.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped counts messages that were not delivered.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Sent counts delivered messages.
func (d *Dispatcher) Sent() uint64 {
	if d == nil {
		return 0
	}
	return d.sent.Load()
}
