package expiry

import (
	"context"
	"sync/atomic"

	"github.com/aretw0/sessionstate/pkg/domain"
)

// Notifier delivers session ends to the host.
// Until Subscribe is called, expirations are not reconciled at all.
type Notifier struct {
	ch         chan domain.ExpiredSession
	subscribed atomic.Bool
}

// NewNotifier creates an unbuffered Notifier.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan domain.ExpiredSession)}
}

// Subscribe marks the host as listening and returns the delivery channel.
// Repeated calls return the same channel. The channel is never closed.
func (n *Notifier) Subscribe() <-chan domain.ExpiredSession {
	n.subscribed.Store(true)
	return n.ch
}

// Subscribed reports whether Subscribe has been called.
func (n *Notifier) Subscribed() bool {
	return n.subscribed.Load()
}

// Deliver blocks until the host receives s or ctx ends.
func (n *Notifier) Deliver(ctx context.Context, s domain.ExpiredSession) bool {
	select {
	case n.ch <- s:
		return true
	case <-ctx.Done():
		return false
	}
}
