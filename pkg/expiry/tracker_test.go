package expiry_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/sessionstate/pkg/adapters/memory"
	"github.com/aretw0/sessionstate/pkg/domain"
	"github.com/aretw0/sessionstate/pkg/expiry"
	"github.com/aretw0/sessionstate/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder counts reconciliations per session.
type recorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func newRecorder() *recorder {
	return &recorder{calls: make(map[string]int)}
}

func (r *recorder) ReconcileExpired(ctx context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[id]++
}

func (r *recorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func newTracker(t *testing.T, opts ...expiry.TrackerOption) *expiry.Tracker {
	t.Helper()
	tracker := expiry.NewTracker(10*time.Millisecond, opts...)
	t.Cleanup(tracker.Close)
	return tracker
}

func TestTracker_ElapsedWindowReconcilesOnce(t *testing.T) {
	tracker := newTracker(t)
	rec := newRecorder()

	tracker.Track("abc", 50*time.Millisecond, rec)
	tracker.Track("abc", 50*time.Millisecond, rec)
	assert.Equal(t, 1, tracker.Len())

	require.Eventually(t, func() bool { return rec.count("abc") == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return rec.count("abc") > 1 }, 150*time.Millisecond, 10*time.Millisecond)
	assert.False(t, tracker.Tracked("abc"))
}

func TestTracker_RefreshKeepsSessionAlive(t *testing.T) {
	tracker := newTracker(t)
	rec := newRecorder()

	tracker.Track("abc", 150*time.Millisecond, rec)
	for i := 0; i < 6; i++ {
		time.Sleep(50 * time.Millisecond)
		tracker.Touch("abc", rec, 0)
	}
	assert.Zero(t, rec.count("abc"), "touched sessions must not expire")
	assert.True(t, tracker.Tracked("abc"))

	require.Eventually(t, func() bool { return rec.count("abc") == 1 }, time.Second, 5*time.Millisecond)
}

func TestTracker_Touch(t *testing.T) {
	tracker := newTracker(t)
	rec := newRecorder()

	tracker.Touch("unknown", rec, 0)
	assert.False(t, tracker.Tracked("unknown"))

	tracker.Touch("unknown", rec, time.Minute)
	assert.True(t, tracker.Tracked("unknown"))
}

func TestTracker_ForgetIsNotASessionEnd(t *testing.T) {
	metrics := observability.NewMetrics(nil)
	tracker := newTracker(t, expiry.WithMetrics(metrics))
	rec := newRecorder()

	tracker.Track("abc", 30*time.Millisecond, rec)
	tracker.Forget("abc")

	require.Eventually(t, func() bool {
		return metrics.EvictionCount(observability.EvictionIgnored) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return rec.count("abc") > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestTracker_NonPositiveTimeoutIsNotTracked(t *testing.T) {
	tracker := newTracker(t)
	tracker.Track("abc", 0, newRecorder())
	tracker.Track("def", domain.NoExpiration, newRecorder())
	assert.Zero(t, tracker.Len())
}

func TestTracker_CapacityEvictionReconciles(t *testing.T) {
	tracker := newTracker(t, expiry.WithCapacity(1))
	rec := newRecorder()

	tracker.Track("first", time.Minute, rec)
	tracker.Track("second", time.Minute, rec)

	require.Eventually(t, func() bool { return rec.count("first") == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, rec.count("second"))
}

func TestTracker_CloseDiscardsWindows(t *testing.T) {
	tracker := expiry.NewTracker(10 * time.Millisecond)
	rec := newRecorder()

	tracker.Track("abc", 30*time.Millisecond, rec)
	tracker.Close()
	tracker.Close()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, rec.count("abc"))
	assert.Zero(t, tracker.Len())
}

func TestTracker_CloseCancelsBlockedDelivery(t *testing.T) {
	store := memory.NewStore(memory.WithGrace(time.Second))
	notifier := expiry.NewNotifier()
	notifier.Subscribe() // nobody reads
	handler := expiry.NewHandler(store, notifier)
	defer handler.Close()

	rec := domain.NewRecord(20 * time.Millisecond)
	require.NoError(t, store.SetAndReleaseItemExclusive(context.Background(), "abc", rec, "", true))

	metrics := observability.NewMetrics(nil)
	tracker := expiry.NewTracker(5*time.Millisecond, expiry.WithMetrics(metrics))
	tracker.Track("abc", 20*time.Millisecond, handler)

	// Wait until the record is removed and delivery is pending.
	require.Eventually(t, func() bool {
		res, err := store.GetItem(context.Background(), "abc")
		return err == nil && res.Record == nil
	}, time.Second, 5*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		tracker.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on an undelivered expiration")
	}
	assert.Zero(t, metrics.EvictionCount(observability.EvictionExpired))
}

func TestTracker_SessionEndsOnceAfterInactivity(t *testing.T) {
	store := memory.NewStore(memory.WithGrace(time.Second))
	notifier := expiry.NewNotifier()
	events := notifier.Subscribe()
	handler := expiry.NewHandler(store, notifier)
	defer handler.Close()
	tracker := newTracker(t)
	ctx := context.Background()

	const timeout = 120 * time.Millisecond
	require.NoError(t, store.CreateUninitializedItem(ctx, "xyz", nil, timeout))
	tracker.Track("xyz", timeout, handler)

	// One touch, then silence.
	res, err := store.GetItemExclusive(ctx, "xyz")
	require.NoError(t, err)
	res.Record.Items.Set("step", 2)
	require.NoError(t, store.SetAndReleaseItemExclusive(ctx, "xyz", res.Record, res.LockID, false))
	tracker.Track("xyz", timeout, handler)

	var delivered atomic.Int32
	var last domain.ExpiredSession
	deadline := time.After(time.Second)
loop:
	for {
		select {
		case ev := <-events:
			delivered.Add(1)
			last = ev
		case <-deadline:
			break loop
		}
	}

	assert.Equal(t, int32(1), delivered.Load())
	assert.Equal(t, "xyz", last.ID)
	require.NotNil(t, last.Record)
	v, _ := last.Record.Items.Get("step")
	assert.Equal(t, 2, v)
}

func TestShared(t *testing.T) {
	first := expiry.Install(20 * time.Millisecond)

	var wg sync.WaitGroup
	got := make([]*expiry.Tracker, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = expiry.Shared(time.Hour)
		}(i)
	}
	wg.Wait()
	for _, tr := range got {
		assert.Same(t, first, tr)
	}
	assert.Equal(t, 20*time.Millisecond, first.Interval())

	rec := newRecorder()
	first.Track("abc", time.Minute, rec)

	second := expiry.Install(30 * time.Millisecond)
	t.Cleanup(second.Close)
	assert.NotSame(t, first, second)
	assert.Same(t, second, expiry.Shared(0))
	assert.Same(t, second, expiry.Installed())
	assert.Zero(t, first.Len(), "replaced tracker is disposed")
	assert.Zero(t, rec.count("abc"), "disposal is not a session end")
	assert.True(t, second.Tracked("abc"), "live windows move to the replacement")
}

func TestInstall_HandsOverRemainingWindow(t *testing.T) {
	first := expiry.Install(10 * time.Millisecond)
	rec := newRecorder()
	first.Track("abc", 150*time.Millisecond, rec)
	first.Track("def", time.Hour, rec)

	second := expiry.Install(15 * time.Millisecond)
	t.Cleanup(second.Close)

	assert.Equal(t, 2, second.Len())
	require.Eventually(t, func() bool { return rec.count("abc") == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, rec.count("def"))
	assert.True(t, second.Tracked("def"))
}
