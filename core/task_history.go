package core

import (
	"reflect"
	"runtime"
	"sync"
)

const defaultTaskHistoryCapacity = 100

type executionHistory struct {
	mu    sync.Mutex
	items []TaskRecord
	head  int
	count int
}

func newExecutionHistory(capacity int) *executionHistory {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return &executionHistory{items: make([]TaskRecord, capacity)}
}

func (h *executionHistory) Add(record TaskRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first.
func (h *executionHistory) Recent(limit int) []TaskRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]TaskRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *executionHistory) Last() (TaskRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return TaskRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}

func resolveTaskName(step Step, explicit string) string {
	if explicit != "" {
		return explicit
	}

	if step == nil {
		return "anonymous"
	}

	pc := reflect.ValueOf(step).Pointer()
	if pc == 0 {
		return "anonymous"
	}

	fn := runtime.FuncForPC(pc)
	if fn == nil || fn.Name() == "" {
		return "anonymous"
	}
	return fn.Name()
}
