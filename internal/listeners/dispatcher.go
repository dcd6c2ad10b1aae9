package listeners

import "sync"

// Dispatcher runs posted functions one at a time, in posting order, on a
// single goroutine. Post never blocks: the queue is unbounded, so an I/O
// loop can hand events to listeners that call back into their source.
type Dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewDispatcher starts a dispatcher goroutine.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

// Post queues f. It reports false when the dispatcher is closed and f was
// discarded.
func (d *Dispatcher) Post(f func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.queue = append(d.queue, f)
	d.cond.Signal()
	return true
}

// Close stops accepting work. Functions already queued still run; Done is
// closed after the last one returns. Close does not wait, so it is safe to
// call from a posted function. It is idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cond.Signal()
}

// Done is closed when the dispatcher goroutine has exited.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Flush blocks until every function posted before the call has run.
// Must not be called from a posted function.
func (d *Dispatcher) Flush() {
	flushed := make(chan struct{})
	if !d.Post(func() { close(flushed) }) {
		<-d.done
		return
	}
	<-flushed
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		f := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()
		f()
	}
}
