package audit

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is used when NewAsyncSink is given a non-positive size.
const DefaultBufferSize = 256

// AsyncSink decouples the engine from a slow sink. Events are queued on a
// bounded channel and delivered by a single goroutine, so ordering is kept.
// Emit blocks when the buffer is full.
type AsyncSink struct {
	next    Sink
	events  chan Event
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewAsyncSink starts the delivery goroutine.
func NewAsyncSink(next Sink, bufferSize int) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	a := &AsyncSink{
		next:   next,
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *AsyncSink) loop() {
	defer close(a.done)
	for event := range a.events {
		a.next.Emit(event)
	}
}

// Emit implements Sink. Events emitted after Close are dropped.
func (a *AsyncSink) Emit(event Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	a.events <- event
}

// Dropped returns the number of events emitted after Close.
func (a *AsyncSink) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and waits until the queue is drained.
func (a *AsyncSink) Close() error {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.events)
		a.mu.Unlock()
	})
	<-a.done
	return nil
}
