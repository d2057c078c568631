// Package runner owns the simulation execution context: every local event and
// every inbound notification is dispatched on the goroutine that calls Run (or
// Drain), never on a transport goroutine.
package runner

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	// InboxSize bounds queued events; Trigger drops when the inbox is full.
	InboxSize int
	// TickInterval drives the OnTick callbacks in Run. Zero disables ticking.
	TickInterval time.Duration
}

type subscriber struct {
	id uint64
	fn func(any)
}

type Runner struct {
	inbox chan any
	stop  chan struct{}
	tick  time.Duration

	mu     sync.Mutex
	subs   map[reflect.Type][]subscriber
	ticks  []subscriber
	nextID uint64

	dropped    atomic.Uint64
	dispatched atomic.Uint64
	stopOnce   sync.Once
}

func New(cfg Config) *Runner {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	return &Runner{
		inbox: make(chan any, cfg.InboxSize),
		stop:  make(chan struct{}),
		tick:  cfg.TickInterval,
		subs:  map[reflect.Type][]subscriber{},
	}
}

// Subscribe registers fn for events of type T. The returned cancel func
// removes the subscription.
func Subscribe[T any](r *Runner, fn func(T)) (cancel func()) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[typ] = append(r.subs[typ], subscriber{id: id, fn: func(ev any) { fn(ev.(T)) }})
	r.mu.Unlock()
	return func() { r.unsubscribe(typ, id) }
}

func (r *Runner) unsubscribe(typ reflect.Type, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[typ]
	for i, s := range list {
		if s.id == id {
			r.subs[typ] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// OnTick registers fn to run on the simulation goroutine every tick.
func (r *Runner) OnTick(fn func()) (cancel func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.ticks = append(r.ticks, subscriber{id: id, fn: func(any) { fn() }})
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.ticks {
			if s.id == id {
				r.ticks = append(r.ticks[:i:i], r.ticks[i+1:]...)
				return
			}
		}
	}
}

// Dispatch delivers ev to its subscribers immediately. It must only be called
// on the simulation goroutine; interception detours use it.
func (r *Runner) Dispatch(ev any) {
	if ev == nil {
		return
	}
	r.mu.Lock()
	list := r.subs[reflect.TypeOf(ev)]
	r.mu.Unlock()
	r.dispatched.Add(1)
	for _, s := range list {
		s.fn(ev)
	}
}

// Trigger queues ev for dispatch on the simulation goroutine. It is safe for
// concurrent use and never blocks; it reports false when the inbox is full.
func (r *Runner) Trigger(ev any) bool {
	select {
	case r.inbox <- ev:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// Drain dispatches every queued event in FIFO order and returns how many ran.
func (r *Runner) Drain() int {
	n := 0
	for {
		select {
		case ev := <-r.inbox:
			r.Dispatch(ev)
			n++
		default:
			return n
		}
	}
}

// Tick runs the tick callbacks once.
func (r *Runner) Tick() {
	r.mu.Lock()
	list := r.ticks
	r.mu.Unlock()
	for _, s := range list {
		s.fn(nil)
	}
}

// Run dispatches queued events until ctx is done or Stop is called.
func (r *Runner) Run(ctx context.Context) error {
	var tickC <-chan time.Time
	if r.tick > 0 {
		ticker := time.NewTicker(r.tick)
		defer ticker.Stop()
		tickC = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case ev := <-r.inbox:
			r.Dispatch(ev)
		case <-tickC:
			r.Tick()
		}
	}
}

func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Runner) Pending() int       { return len(r.inbox) }
func (r *Runner) Dropped() uint64    { return r.dropped.Load() }
func (r *Runner) Dispatched() uint64 { return r.dispatched.Load() }
