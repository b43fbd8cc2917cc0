package expiry

import (
	"sync"
	"time"
)

var (
	sharedMu sync.Mutex
	shared   *Tracker
)

// Shared returns the process-wide Tracker, creating it on first use.
// Later calls return the existing instance and ignore their arguments.
func Shared(interval time.Duration, opts ...TrackerOption) *Tracker {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if shared == nil {
		shared = NewTracker(interval, opts...)
	}
	return shared
}

// Installed returns the process-wide Tracker, or nil before the first Shared or Install.
func Installed() *Tracker {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	return shared
}

// Install replaces the process-wide Tracker. Live windows of the previous one move to the
// replacement with their remaining time, then the previous one is closed.
func Install(interval time.Duration, opts ...TrackerOption) *Tracker {
	sharedMu.Lock()
	previous := shared
	shared = NewTracker(interval, opts...)
	current := shared
	sharedMu.Unlock()

	if previous != nil {
		previous.handover(current)
		previous.Close()
	}
	return current
}
