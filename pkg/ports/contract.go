package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/sessionstate/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore implementation
// adheres to the defined interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405.000000")
	timeout := 5 * time.Minute

	t.Run("Create and Lock", func(t *testing.T) {
		id := sessionID + "-create"
		require.NoError(t, store.CreateUninitializedItem(ctx, id, domain.NewItems(), timeout))

		res, err := store.GetItemExclusive(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, res.Record, "created record should be readable")
		assert.False(t, res.Locked)
		assert.NotEmpty(t, res.LockID)
		assert.Equal(t, domain.ActionInitializeItem, res.Actions)
		assert.Equal(t, timeout, res.Record.Timeout)

		// A second exclusive read must observe contention.
		again, err := store.GetItemExclusive(ctx, id)
		require.NoError(t, err)
		assert.True(t, again.Locked)
		assert.Nil(t, again.Record)

		// So must a plain read.
		plain, err := store.GetItem(ctx, id)
		require.NoError(t, err)
		assert.True(t, plain.Locked)
		assert.Nil(t, plain.Record)

		require.NoError(t, store.ReleaseItemExclusive(ctx, id, res.LockID))

		// The initialize action is reported once.
		res, err = store.GetItemExclusive(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.ActionNone, res.Actions)
		require.NoError(t, store.ReleaseItemExclusive(ctx, id, res.LockID))
	})

	t.Run("Set and Release", func(t *testing.T) {
		id := sessionID + "-set"
		require.NoError(t, store.CreateUninitializedItem(ctx, id, domain.NewItems(), timeout))

		res, err := store.GetItemExclusive(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, res.Record)

		res.Record.Items.Set("key", "value")
		res.Record.Items.SetVersion("1.2.3.4")
		require.NoError(t, store.SetAndReleaseItemExclusive(ctx, id, res.Record, res.LockID, false))

		read, err := store.GetItem(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, read.Record)
		assert.False(t, read.Locked)
		v, ok := read.Record.Items.Get("key")
		assert.True(t, ok)
		assert.Equal(t, "value", v)
		version, ok := read.Record.Items.Version()
		assert.True(t, ok)
		assert.Equal(t, "1.2.3.4", version)
		assert.Equal(t, 1, read.Record.Items.Len())

		// The lock was released by the write.
		res, err = store.GetItemExclusive(ctx, id)
		require.NoError(t, err)
		assert.False(t, res.Locked)
		require.NoError(t, store.ReleaseItemExclusive(ctx, id, res.LockID))
	})

	t.Run("Stale Lock Rejected", func(t *testing.T) {
		id := sessionID + "-stale"
		require.NoError(t, store.CreateUninitializedItem(ctx, id, domain.NewItems(), timeout))

		res, err := store.GetItemExclusive(ctx, id)
		require.NoError(t, err)
		require.NoError(t, store.ReleaseItemExclusive(ctx, id, res.LockID))

		err = store.SetAndReleaseItemExclusive(ctx, id, res.Record, res.LockID, false)
		assert.ErrorIs(t, err, domain.ErrLockNotHeld)
	})

	t.Run("New Item Without Lock", func(t *testing.T) {
		id := sessionID + "-new"
		rec := domain.NewRecord(timeout)
		rec.Items.Set("fresh", "yes")
		require.NoError(t, store.SetAndReleaseItemExclusive(ctx, id, rec, "", true))

		read, err := store.GetItem(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, read.Record)
		v, _ := read.Record.Items.Get("fresh")
		assert.Equal(t, "yes", v)
		assert.Equal(t, domain.ActionNone, read.Actions)
	})

	t.Run("Remove", func(t *testing.T) {
		id := sessionID + "-remove"
		require.NoError(t, store.CreateUninitializedItem(ctx, id, domain.NewItems(), timeout))

		res, err := store.GetItemExclusive(ctx, id)
		require.NoError(t, err)
		require.NoError(t, store.RemoveItem(ctx, id, res.LockID))

		read, err := store.GetItem(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, read.Record)
		assert.False(t, read.Locked, "remove must drop the lock as well")

		ttl, err := store.GetRemainingTTL(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), ttl)
	})

	t.Run("Nil Lock Operations", func(t *testing.T) {
		id := "non-existent-" + sessionID
		assert.NoError(t, store.ReleaseItemExclusive(ctx, id, ""))
		assert.NoError(t, store.RemoveItem(ctx, id, ""))
		assert.NoError(t, store.ResetItemTimeout(ctx, id))

		read, err := store.GetItem(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, read.Record)
	})

	t.Run("Remaining TTL", func(t *testing.T) {
		id := sessionID + "-ttl"
		require.NoError(t, store.CreateUninitializedItem(ctx, id, domain.NewItems(), timeout))
		require.NoError(t, store.ResetItemTimeout(ctx, id))

		ttl, err := store.GetRemainingTTL(ctx, id)
		require.NoError(t, err)
		assert.Greater(t, ttl, timeout-time.Minute)
		assert.LessOrEqual(t, ttl, timeout)
	})
}
