package tracepipeline

import "sync"

// Queue is the bounded multi-producer/single-consumer channel between
// trace ingest handlers and the trace pipeline worker. Enqueue never
// blocks: a full queue silently drops the trace.
type Queue struct {
	mu     sync.RWMutex
	ch     chan ProcessedTrace
	closed bool
}

// NewQueue creates a queue with the given buffered capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan ProcessedTrace, capacity)}
}

// Enqueue attempts a non-blocking send. It returns false if the queue
// was full (or closed) and the trace was dropped.
func (q *Queue) Enqueue(pt ProcessedTrace) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- pt:
		return true
	default:
		return false
	}
}

// C exposes the receive side for the worker.
func (q *Queue) C() <-chan ProcessedTrace {
	return q.ch
}

// Close closes the queue so the worker's receive loop observes
// end-of-stream. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
