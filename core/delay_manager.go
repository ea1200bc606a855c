package core

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// DelayedWork is a callback scheduled for the future
type DelayedWork struct {
	RunAt time.Time
	Fire  func()
	index int // for heap interface
}

// DelayedWorkHeap implements heap.Interface
type DelayedWorkHeap []*DelayedWork

func (h DelayedWorkHeap) Len() int           { return len(h) }
func (h DelayedWorkHeap) Less(i, j int) bool { return h[i].RunAt.Before(h[j].RunAt) }
func (h DelayedWorkHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *DelayedWorkHeap) Push(x any) {
	n := len(*h)
	item := x.(*DelayedWork)
	item.index = n
	*h = append(*h, item)
}

func (h *DelayedWorkHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h *DelayedWorkHeap) Peek() *DelayedWork {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

// DelayManager fires callbacks after a delay from a single timer goroutine.
// Callbacks must not block; tasks use them only to submit their next step.
type DelayManager struct {
	pq      DelayedWorkHeap
	mu      sync.Mutex
	wakeup  chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
}

func NewDelayManager() *DelayManager {
	ctx, cancel := context.WithCancel(context.Background())
	dm := &DelayManager{
		pq:     make(DelayedWorkHeap, 0),
		wakeup: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	heap.Init(&dm.pq)
	go dm.loop()
	return dm
}

// AddDelayed schedules fire to run after delay. It reports false once the
// manager is stopped.
func (dm *DelayManager) AddDelayed(fire func(), delay time.Duration) bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.stopped {
		return false
	}

	item := &DelayedWork{
		RunAt: time.Now().Add(delay),
		Fire:  fire,
	}
	heap.Push(&dm.pq, item)

	if item.index == 0 {
		select {
		case dm.wakeup <- struct{}{}:
		default:
		}
	}
	return true
}

func (dm *DelayManager) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		// Calculate next run time
		nextRun := dm.calculateNextRun()
		if nextRun == 0 {
			// No work, wait indefinitely
			nextRun = 1000 * time.Hour
		}

		timer.Reset(nextRun)

		select {
		case <-dm.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			dm.processExpired()
		case <-dm.wakeup:
			// New earliest entry, recalculate
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// calculateNextRun determines how long to wait until the next entry.
// Returns 0 if there is nothing queued or something is already due.
func (dm *DelayManager) calculateNextRun() time.Duration {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := dm.pq.Peek()
	if item == nil {
		return 0
	}

	now := time.Now()
	if item.RunAt.Before(now) {
		// Already expired: fire almost immediately.
		return time.Nanosecond
	}
	return item.RunAt.Sub(now)
}

// processExpired fires every entry that is due, outside the lock.
func (dm *DelayManager) processExpired() {
	dm.mu.Lock()

	now := time.Now()
	var expired []*DelayedWork

	for dm.pq.Len() > 0 {
		item := dm.pq.Peek()
		if item.RunAt.After(now) {
			break
		}
		heap.Pop(&dm.pq)
		expired = append(expired, item)
	}

	dm.mu.Unlock()

	for _, item := range expired {
		item.Fire()
	}
}

// Stop ends the timer goroutine and drops everything still scheduled.
func (dm *DelayManager) Stop() {
	dm.cancel()

	dm.mu.Lock()
	dm.stopped = true
	dm.pq = make(DelayedWorkHeap, 0)
	heap.Init(&dm.pq)
	dm.mu.Unlock()
}

// PendingCount returns the number of scheduled entries.
func (dm *DelayManager) PendingCount() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pq)
}
