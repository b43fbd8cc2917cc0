package versioning_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/sessionstate/pkg/adapters/memory"
	"github.com/aretw0/sessionstate/pkg/domain"
	"github.com/aretw0/sessionstate/pkg/observability"
	"github.com/aretw0/sessionstate/pkg/versioning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore counts writes and can pause inside SetAndReleaseItemExclusive.
type recordingStore struct {
	*memory.Store
	writes  atomic.Int32
	onWrite func()
	failGet error
}

func (r *recordingStore) SetAndReleaseItemExclusive(ctx context.Context, id string, record *domain.Record, lockID domain.LockID, newItem bool) error {
	r.writes.Add(1)
	if r.onWrite != nil {
		r.onWrite()
	}
	return r.Store.SetAndReleaseItemExclusive(ctx, id, record, lockID, newItem)
}

func (r *recordingStore) GetItemExclusive(ctx context.Context, id string) (*domain.GetItemResult, error) {
	if r.failGet != nil {
		return nil, r.failGet
	}
	return r.Store.GetItemExclusive(ctx, id)
}

// seed writes a session tagged with version and returns a plain read of it.
func seed(t *testing.T, store *recordingStore, id, version string) *domain.GetItemResult {
	t.Helper()
	ctx := context.Background()
	rec := domain.NewRecord(time.Minute)
	rec.Items.Set("cart", "3 items")
	if version != "" {
		rec.Items.SetVersion(version)
	}
	require.NoError(t, store.Store.SetAndReleaseItemExclusive(ctx, id, rec, "", true))

	res, err := store.GetItem(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, res.Record)
	return res
}

func newSanitizer(store *recordingStore, version string) (*versioning.Sanitizer, *observability.Metrics) {
	m := observability.NewMetrics(nil)
	s := versioning.NewSanitizer(store, versioning.NewTagger(versioning.Fixed(version)), versioning.WithMetrics(m))
	return s, m
}

func TestSanitize_ValidIsNoop(t *testing.T) {
	store := &recordingStore{Store: memory.NewStore()}
	res := seed(t, store, "abc", "V1")
	sanitizer, m := newSanitizer(store, "V1")

	out, err := sanitizer.Sanitize(context.Background(), "abc", res, false)
	require.NoError(t, err)

	assert.Same(t, res, out)
	v, _ := out.Record.Items.Get("cart")
	assert.Equal(t, "3 items", v)
	assert.Zero(t, store.writes.Load())
	assert.Equal(t, float64(1), m.SanitizeCount(observability.SanitizeValid))
}

func TestSanitize_AbsentAndDisabled(t *testing.T) {
	store := &recordingStore{Store: memory.NewStore()}
	sanitizer, _ := newSanitizer(store, "V1")

	absent := &domain.GetItemResult{}
	out, err := sanitizer.Sanitize(context.Background(), "nope", absent, false)
	require.NoError(t, err)
	assert.Same(t, absent, out)

	out, err = sanitizer.Sanitize(context.Background(), "nope", nil, true)
	require.NoError(t, err)
	assert.Nil(t, out)

	res := seed(t, store, "abc", "")
	off := versioning.NewSanitizer(store, versioning.NewTagger(versioning.Disabled()))
	out, err = off.Sanitize(context.Background(), "abc", res, false)
	require.NoError(t, err)
	assert.Same(t, res, out)
	assert.Zero(t, store.writes.Load())
}

func TestSanitize_MismatchClearsStore(t *testing.T) {
	for _, stored := range []string{"V1", ""} {
		t.Run("stored="+stored, func(t *testing.T) {
			store := &recordingStore{Store: memory.NewStore()}
			res := seed(t, store, "abc", stored)
			sanitizer, m := newSanitizer(store, "V2")
			ctx := context.Background()

			out, err := sanitizer.Sanitize(ctx, "abc", res, false)
			require.NoError(t, err)
			require.NotNil(t, out.Record)

			assert.Equal(t, 0, out.Record.Items.Len())
			assert.False(t, out.Locked)
			assert.Empty(t, out.LockID, "plain read mode is preserved")
			assert.Equal(t, int32(1), store.writes.Load())
			assert.Equal(t, float64(1), m.SanitizeCount(observability.SanitizeCleared))

			// The store copy is empty too, and carries the new tag.
			again, err := store.GetItem(ctx, "abc")
			require.NoError(t, err)
			assert.Equal(t, 0, again.Record.Items.Len())
			version, _ := again.Record.Items.Version()
			assert.Equal(t, "V2", version)

			// Lock was released by the persist.
			lock, err := store.GetItemExclusive(ctx, "abc")
			require.NoError(t, err)
			assert.False(t, lock.Locked)
		})
	}
}

func TestSanitize_ExclusiveCaller(t *testing.T) {
	store := &recordingStore{Store: memory.NewStore()}
	seed(t, store, "abc", "V1")
	sanitizer, _ := newSanitizer(store, "V2")
	ctx := context.Background()

	held, err := store.GetItemExclusive(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, held.Record)

	out, err := sanitizer.Sanitize(ctx, "abc", held, true)
	require.NoError(t, err)
	require.NotNil(t, out.Record)

	assert.Equal(t, 0, out.Record.Items.Len())
	assert.NotEmpty(t, out.LockID, "exclusive mode must hand back a held lock")
	assert.NotEqual(t, held.LockID, out.LockID)
	assert.Equal(t, int32(1), store.writes.Load())

	// The returned lock really is held.
	probe, err := store.GetItem(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, probe.Locked)
}

func TestSanitize_ContentionReturnsStale(t *testing.T) {
	store := &recordingStore{Store: memory.NewStore()}
	res := seed(t, store, "abc", "V1")
	sanitizer, m := newSanitizer(store, "V2")
	ctx := context.Background()

	holder, err := store.GetItemExclusive(ctx, "abc")
	require.NoError(t, err)
	require.False(t, holder.Locked)

	out, err := sanitizer.Sanitize(ctx, "abc", res, false)
	require.NoError(t, err)

	assert.Same(t, res, out)
	v, _ := out.Record.Items.Get("cart")
	assert.Equal(t, "3 items", v)
	assert.Zero(t, store.writes.Load())
	assert.Equal(t, float64(1), m.SanitizeCount(observability.SanitizeContended))
}

func TestSanitize_ConcurrentAttemptsWriteOnce(t *testing.T) {
	store := &recordingStore{Store: memory.NewStore()}
	first := seed(t, store, "abc", "V1")
	second, err := store.GetItem(context.Background(), "abc")
	require.NoError(t, err)

	inWrite := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	store.onWrite = func() {
		once.Do(func() {
			close(inWrite)
			<-proceed
		})
	}

	sanitizer, _ := newSanitizer(store, "V2")
	ctx := context.Background()

	var winner *domain.GetItemResult
	var winnerErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		winner, winnerErr = sanitizer.Sanitize(ctx, "abc", first, false)
	}()

	<-inWrite
	loser, err := sanitizer.Sanitize(ctx, "abc", second, false)
	close(proceed)
	<-done

	require.NoError(t, err)
	require.NoError(t, winnerErr)
	assert.Same(t, second, loser, "contender returns the stale result")
	assert.Equal(t, 1, loser.Record.Items.Len())
	assert.Equal(t, 0, winner.Record.Items.Len())
	assert.Equal(t, int32(1), store.writes.Load())
}

func TestSanitize_AlreadyFixedByOtherHolder(t *testing.T) {
	store := &recordingStore{Store: memory.NewStore()}
	stale := seed(t, store, "abc", "V1")
	sanitizer, m := newSanitizer(store, "V2")
	ctx := context.Background()

	// Another node rewrites the session with the current version.
	fixed := domain.NewRecord(time.Minute)
	fixed.Items.Set("fresh", true)
	fixed.Items.SetVersion("V2")
	require.NoError(t, store.Store.SetAndReleaseItemExclusive(ctx, "abc", fixed, "", true))

	out, err := sanitizer.Sanitize(ctx, "abc", stale, false)
	require.NoError(t, err)

	v, ok := out.Record.Items.Get("fresh")
	assert.True(t, ok)
	assert.Equal(t, true, v)
	assert.Zero(t, store.writes.Load())
	assert.Equal(t, float64(1), m.SanitizeCount(observability.SanitizeRaced))
}

func TestSanitize_StoreErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	store := &recordingStore{Store: memory.NewStore()}
	res := seed(t, store, "abc", "V1")
	store.failGet = boom
	sanitizer, _ := newSanitizer(store, "V2")

	_, err := sanitizer.Sanitize(context.Background(), "abc", res, false)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, store.writes.Load())
}

func TestSanitize_RecordWithoutItems(t *testing.T) {
	store := &recordingStore{Store: memory.NewStore()}
	seed(t, store, "abc", "V1")
	sanitizer, m := newSanitizer(store, "V2")
	ctx := context.Background()

	res, err := store.GetItemExclusive(ctx, "abc")
	require.NoError(t, err)
	res.Record.Items = nil

	var out *domain.GetItemResult
	require.NotPanics(t, func() {
		out, err = sanitizer.Sanitize(ctx, "abc", res, true)
	})
	require.NoError(t, err)
	require.NotNil(t, out.Record)
	assert.Zero(t, out.Record.Items.Len())
	stored, _ := out.Record.Items.Version()
	assert.Equal(t, "V2", stored)
	assert.Equal(t, int32(1), store.writes.Load())
	assert.Equal(t, float64(1), m.SanitizeCount(observability.SanitizeCleared))
	require.NoError(t, store.ReleaseItemExclusive(ctx, "abc", out.LockID))
}
