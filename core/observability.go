package core

import "time"

// TaskRecord captures a finished task.
type TaskRecord struct {
	TaskID     TaskID
	Name       string
	Owner      string
	State      TaskState
	Err        error
	Bridged    bool
	Hops       int
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Panicked   bool
}

// SessionStats represents runtime observability state for one owner's session.
type SessionStats struct {
	Owner         string
	Disposed      bool
	Tasks         int
	Running       int
	Suspended     int
	PrimaryBound  bool
	PrimaryQueued int
	WorkerQueued  int
	WorkerActive  int
	Completed     int64
	Failed        int64
	Cancelled     int64
	LastTaskName  string
	LastTaskAt    time.Time
}

// PoolStats represents runtime observability state for a thread pool.
type PoolStats struct {
	ID      string
	Workers int
	Queued  int
	Active  int
	Running bool
}
