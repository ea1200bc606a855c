package core

import "github.com/petermattis/goid"

// GoroutineID returns the runtime id of the calling goroutine.
func GoroutineID() uint64 {
	return uint64(goid.Get())
}
