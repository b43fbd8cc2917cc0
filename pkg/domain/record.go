package domain

import "time"

// LockID is the opaque token granted with an exclusive lock.
type LockID string

// Actions signals work the host must do on a freshly read record.
type Actions int

const (
	ActionNone           Actions = iota // Normal record
	ActionInitializeItem                // Created uninitialized, host must initialize it
)

// Record is the durable per-session state.
type Record struct {
	Items   *Items
	Timeout time.Duration
}

// NewRecord creates an empty record with the given timeout.
func NewRecord(timeout time.Duration) *Record {
	return &Record{
		Items:   NewItems(),
		Timeout: timeout,
	}
}

// Clone returns a deep copy of the record. A nil record clones to nil.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Items:   r.Items.Clone(),
		Timeout: r.Timeout,
	}
}

// GetItemResult is the outcome of a store read.
// Record is nil when the session is absent or held by another lock holder.
type GetItemResult struct {
	Record  *Record
	Locked  bool
	LockAge time.Duration
	LockID  LockID
	Actions Actions
}

// ExpiredSession is delivered once when a session ends.
type ExpiredSession struct {
	ID     string
	Record *Record
}
