package expiry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/sessionstate/internal/logging"
	"github.com/aretw0/sessionstate/pkg/observability"
	"github.com/jellydator/ttlcache/v3"
)

// DefaultPollingInterval is how often elapsed windows are collected.
const DefaultPollingInterval = time.Second

// Tracker holds one sliding expiry window per session ID.
// Safe for concurrent use.
type Tracker struct {
	cache       *ttlcache.Cache[string, Reconciler]
	unsubscribe func()
	interval    time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// TrackerOption configures the Tracker.
type TrackerOption func(*trackerOptions)

type trackerOptions struct {
	logger   *slog.Logger
	metrics  *observability.Metrics
	capacity uint64
}

// WithLogger configures a logger for the Tracker.
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(o *trackerOptions) {
		o.logger = logger
	}
}

// WithMetrics records tracker size and ignored evictions.
func WithMetrics(m *observability.Metrics) TrackerOption {
	return func(o *trackerOptions) {
		o.metrics = m
	}
}

// WithCapacity bounds the number of tracked sessions. The least recently used
// session is evicted, and reconciled, when the bound is reached. Zero means unbounded.
func WithCapacity(n uint64) TrackerOption {
	return func(o *trackerOptions) {
		o.capacity = n
	}
}

// NewTracker creates a Tracker collecting elapsed windows every interval.
func NewTracker(interval time.Duration, opts ...TrackerOption) *Tracker {
	o := trackerOptions{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if interval <= 0 {
		interval = DefaultPollingInterval
	}

	var cacheOpts []ttlcache.Option[string, Reconciler]
	if o.capacity > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithCapacity[string, Reconciler](o.capacity))
	}

	t := &Tracker{
		cache:    ttlcache.New(cacheOpts...),
		interval: interval,
		logger:   o.logger,
		metrics:  o.metrics,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	t.unsubscribe = t.cache.OnEviction(t.onEviction)
	go t.run()
	return t
}

// Interval returns the collection interval.
func (t *Tracker) Interval() time.Duration {
	return t.interval
}

func (t *Tracker) run() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.cache.DeleteExpired()
			t.metrics.SetTracked(t.cache.Len())
		}
	}
}

// onEviction runs on its own goroutine for every removed entry.
func (t *Tracker) onEviction(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, Reconciler]) {
	switch reason {
	case ttlcache.EvictionReasonExpired, ttlcache.EvictionReasonCapacityReached:
	default:
		t.metrics.Eviction(observability.EvictionIgnored)
		return
	}
	t.logger.Debug("Session window elapsed", "session_id", item.Key(), "reason", reason)
	item.Value().ReconcileExpired(ctx, item.Key())
}

// Track inserts or refreshes the window of id. Non-positive timeouts are not tracked.
func (t *Tracker) Track(id string, timeout time.Duration, r Reconciler) {
	if timeout <= 0 || r == nil {
		return
	}
	t.cache.Set(id, r, timeout)
	t.metrics.SetTracked(t.cache.Len())
}

// Touch restarts the window of id with its own length.
// An untracked id is tracked with fallback.
func (t *Tracker) Touch(id string, r Reconciler, fallback time.Duration) {
	if t.cache.Get(id) != nil {
		return
	}
	t.Track(id, fallback, r)
}

// Forget drops id without reconciling it.
func (t *Tracker) Forget(id string) {
	t.cache.Delete(id)
	t.metrics.SetTracked(t.cache.Len())
}

// Tracked reports whether id has a live window.
func (t *Tracker) Tracked(id string) bool {
	return t.cache.Has(id)
}

// Len returns the number of tracked sessions.
func (t *Tracker) Len() int {
	return t.cache.Len()
}

// handover copies every live window into next, keeping its remaining time.
func (t *Tracker) handover(next *Tracker) {
	now := time.Now()
	items := t.cache.Items()
	for id, item := range items {
		// Elapsed windows are collected by next on its first pass.
		next.Track(id, max(item.ExpiresAt().Sub(now), time.Nanosecond), item.Value())
	}
	t.logger.Debug("Handed over session windows", "count", len(items))
}

// Close stops collection, cancels in-flight reconciliations and waits for them.
// Remaining windows are discarded without being reconciled.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		close(t.stop)
		<-t.done
		t.unsubscribe()
		t.cache.DeleteAll()
		t.metrics.SetTracked(0)
	})
}
