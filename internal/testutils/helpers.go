package testutils

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/sessionstate/pkg/adapters/redis"
	backend "github.com/redis/go-redis/v9"
)

// SetupRedis starts an in-process Redis and returns a store connected to it.
// Both are closed when the test ends.
func SetupRedis(t *testing.T, opts ...redis.Option) (*miniredis.Miniredis, *redis.Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return mr, redis.NewFromClient(client, opts...)
}
