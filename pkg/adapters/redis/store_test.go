package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/sessionstate/internal/testutils"
	"github.com/aretw0/sessionstate/pkg/adapters/redis"
	"github.com/aretw0/sessionstate/pkg/domain"
	"github.com/aretw0/sessionstate/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, opts ...redis.Option) (*miniredis.Miniredis, *redis.Store) {
	t.Helper()
	return testutils.SetupRedis(t, opts...)
}

func TestRedisStore_Contract(t *testing.T) {
	_, store := setup(t)
	ports.RunSessionStoreContract(t, store)
}

func TestRedisStore_KeyLayout(t *testing.T) {
	mr, store := setup(t, redis.WithPrefix("custom:app:"))
	ctx := context.Background()
	keys := store.Keys("my-session")

	assert.Equal(t, "{custom:app:my-session}:data", keys.Data)

	require.NoError(t, store.CreateUninitializedItem(ctx, "my-session", domain.NewItems(), time.Minute))
	res, err := store.GetItemExclusive(ctx, "my-session")
	require.NoError(t, err)

	lockOwner, err := mr.Get(keys.Lock)
	require.NoError(t, err)
	assert.Equal(t, string(res.LockID), lockOwner)
	assert.Equal(t, "60", mr.HGet(keys.Internal, "SessionTimeout"))

	res.Record.Items.Set("key", "value")
	res.Record.Items.SetVersion("1.2.3.4")
	require.NoError(t, store.SetAndReleaseItemExclusive(ctx, "my-session", res.Record, res.LockID, false))

	fields, err := mr.HKeys(keys.Data)
	require.NoError(t, err)
	assert.Len(t, fields, 2, "item and version tag are both persisted")
	assert.False(t, mr.Exists(keys.Lock), "write must release the lock")
}

func TestRedisStore_PreservesItemOrderAndTypes(t *testing.T) {
	_, store := setup(t)
	ctx := context.Background()

	rec := domain.NewRecord(time.Minute)
	rec.Items.Set("zeta", "last-alphabetically")
	rec.Items.Set("alpha", 42)
	rec.Items.Set("nested", map[string]any{"ok": true})
	require.NoError(t, store.SetAndReleaseItemExclusive(ctx, "s", rec, "", true))

	res, err := store.GetItem(ctx, "s")
	require.NoError(t, err)
	require.NotNil(t, res.Record)
	assert.Equal(t, []string{"zeta", "alpha", "nested"}, res.Record.Items.Keys())

	v, _ := res.Record.Items.Get("alpha")
	assert.Equal(t, float64(42), v, "numbers round-trip through JSON")
	assert.Equal(t, time.Minute, res.Record.Timeout)
}

func TestRedisStore_ForeignRawVersion(t *testing.T) {
	mr, store := setup(t)
	ctx := context.Background()

	rec := domain.NewRecord(time.Minute)
	rec.Items.SetVersion("1.2.3.4")
	require.NoError(t, store.SetAndReleaseItemExclusive(ctx, "s", rec, "", true))

	// Simulate another tool overwriting the tag with a non-JSON value.
	mr.HSet(store.Keys("s").Data, domain.VersionKey, "modified-by-test")

	res, err := store.GetItem(ctx, "s")
	require.NoError(t, err)
	version, ok := res.Record.Items.Version()
	require.True(t, ok)
	assert.Equal(t, "modified-by-test", version)
}

func TestRedisStore_TTL(t *testing.T) {
	mr, store := setup(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUninitializedItem(ctx, "s", domain.NewItems(), time.Minute))
	mr.FastForward(30 * time.Second)

	// Taking the lock must not slide the window.
	res, err := store.GetItemExclusive(ctx, "s")
	require.NoError(t, err)
	ttl, err := store.GetRemainingTTL(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, ttl)

	// Releasing it does.
	require.NoError(t, store.ReleaseItemExclusive(ctx, "s", res.LockID))
	ttl, err = store.GetRemainingTTL(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(time.Minute + domain.DefaultGrace + time.Second)
	read, err := store.GetItem(ctx, "s")
	require.NoError(t, err)
	assert.Nil(t, read.Record)
}

func TestRedisStore_DefaultGrace(t *testing.T) {
	mr, store := setup(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUninitializedItem(ctx, "s", domain.NewItems(), time.Minute))
	assert.Equal(t, time.Minute+domain.DefaultGrace, mr.TTL(store.Keys("s").Internal))
}

func TestRedisStore_Grace(t *testing.T) {
	mr, store := setup(t, redis.WithGrace(5*time.Second))
	ctx := context.Background()

	require.NoError(t, store.CreateUninitializedItem(ctx, "s", domain.NewItems(), time.Minute))
	assert.Equal(t, 65*time.Second, mr.TTL(store.Keys("s").Internal))

	ttl, err := store.GetRemainingTTL(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	// Past the timeout the record is still readable, with no session time left.
	mr.FastForward(62 * time.Second)
	ttl, err = store.GetRemainingTTL(ctx, "s")
	require.NoError(t, err)
	assert.Zero(t, ttl)

	res, err := store.GetItemExclusive(ctx, "s")
	require.NoError(t, err)
	require.NotNil(t, res.Record)
	require.NoError(t, store.RemoveItem(ctx, "s", res.LockID))
	assert.False(t, mr.Exists(store.Keys("s").Internal))
}

func TestRedisStore_PersistentRecord(t *testing.T) {
	mr, store := setup(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUninitializedItem(ctx, "s", domain.NewItems(), time.Minute))
	raw := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	defer raw.Close()
	require.NoError(t, raw.Persist(ctx, store.Keys("s").Internal).Err())

	ttl, err := store.GetRemainingTTL(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, domain.NoExpiration, ttl)
}

func TestRedisStore_LockAge(t *testing.T) {
	_, store := setup(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUninitializedItem(ctx, "s", domain.NewItems(), time.Minute))
	_, err := store.GetItemExclusive(ctx, "s")
	require.NoError(t, err)

	res, err := store.GetItemExclusive(ctx, "s")
	require.NoError(t, err)
	assert.True(t, res.Locked)
	assert.GreaterOrEqual(t, res.LockAge, time.Duration(0))
	assert.Less(t, res.LockAge, 5*time.Second)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := backend.NewClient(&backend.Options{
		Addr:        mr.Addr(),
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	defer client.Close()
	store := redis.NewFromClient(client)
	mr.Close()

	_, err = store.GetItem(context.Background(), "s")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = store.GetRemainingTTL(context.Background(), "s")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
