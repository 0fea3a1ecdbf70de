package pjutsauth

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditDispatcher moves audit events off the request path onto a single
// worker goroutine. Emit never waits on the sink itself, only on queue room.
type auditDispatcher struct {
	sink       AuditSink
	dropIfFull bool

	queue    chan AuditEvent
	stopping chan struct{}
	finished chan struct{}

	// mu guards closing queue against concurrent sends.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	dropped atomic.Uint64
}

// newAuditDispatcher returns nil when auditing is off; every method accepts a
// nil receiver.
func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan AuditEvent, max(cfg.BufferSize, 1)),
		stopping:   make(chan struct{}),
		finished:   make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *auditDispatcher) loop() {
	defer close(d.finished)
	for event := range d.queue {
		d.deliver(event)
	}
}

// deliver isolates the worker from a panicking sink.
func (d *auditDispatcher) deliver(event AuditEvent) {
	defer func() {
		if recover() != nil {
			d.dropped.Add(1)
		}
	}()
	d.sink.Emit(context.Background(), event)
}

// Emit queues event. A full queue drops the event when dropIfFull is set and
// otherwise waits for room, ctx cancellation or Close.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil {
		return
	}
	var cancelled <-chan struct{}
	if ctx != nil {
		cancelled = ctx.Done()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-cancelled:
	case <-d.stopping:
	}
}

// Close releases blocked emitters, then waits for the worker to flush what
// was already queued. Calling it again is a no-op.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		close(d.stopping)
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	<-d.finished
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
