package core

import (
	"sync"

	"github.com/eapache/queue"
)

// WorkQueue defines the interface for queues feeding an execution context.
type WorkQueue interface {
	Push(w Work)
	Pop() (Work, bool)
	PopUpTo(max int) []Work
	Len() int
	IsEmpty() bool
	Clear() // Clear all work from the queue
}

// =============================================================================
// FIFOWorkQueue: unbounded FIFO on a growable ring buffer
// =============================================================================

type FIFOWorkQueue struct {
	mu    sync.Mutex
	items *queue.Queue
}

func NewFIFOWorkQueue() *FIFOWorkQueue {
	return &FIFOWorkQueue{items: queue.New()}
}

func (q *FIFOWorkQueue) Push(w Work) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.Add(w)
}

func (q *FIFOWorkQueue) Pop() (Work, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Length() == 0 {
		return nil, false
	}
	return q.items.Remove().(Work), true
}

func (q *FIFOWorkQueue) PopUpTo(max int) []Work {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.Length()
	if n == 0 || max <= 0 {
		return nil
	}
	if n > max {
		n = max
	}

	batch := make([]Work, 0, n)
	for range n {
		batch = append(batch, q.items.Remove().(Work))
	}
	return batch
}

func (q *FIFOWorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

func (q *FIFOWorkQueue) IsEmpty() bool {
	return q.Len() == 0
}

// Clear drops every queued item so their closures can be collected.
func (q *FIFOWorkQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = queue.New()
}
