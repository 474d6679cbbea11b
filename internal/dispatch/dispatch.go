// Package dispatch runs recording work on a single consumer goroutine.
// Metric APIs stay non-blocking for callers while all storage mutation
// serializes through one worker, which is what lets ping assembly appear
// atomic to concurrent recorders without per-key locking.
package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Dispatcher owns the task queue and its worker goroutine. The queue is
// unbounded so Launch never blocks a recording call site; the worker drains
// tasks strictly in arrival order.
type Dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	done chan struct{}
}

// New starts a dispatcher and its worker.
func New() *Dispatcher {
	d := &Dispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		task := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		task()
	}
}

// Launch enqueues a task. It returns false when the dispatcher has shut
// down, in which case the task is dropped; recording after shutdown is a
// no-op, not an error.
func (d *Dispatcher) Launch(task func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.queue = append(d.queue, task)
	d.cond.Signal()
	return true
}

// BlockOn waits until every task enqueued before the call has completed.
// Test introspection uses this to make asynchronous recording deterministic.
func (d *Dispatcher) BlockOn() {
	ran := make(chan struct{})
	if !d.Launch(func() { close(ran) }) {
		return
	}
	<-ran
}

// Shutdown stops accepting new tasks and waits for the queue to drain,
// bounded by ctx. On timeout the worker keeps draining in the background
// but the caller gets control back.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.cond.Signal()
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		log.Warn().Msg("Dispatcher drain timed out, tasks may still be running")
		return ctx.Err()
	}
}
