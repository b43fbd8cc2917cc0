package sessionstate

import (
	"fmt"

	"github.com/aretw0/sessionstate/pkg/adapters/redis"
	"github.com/aretw0/sessionstate/pkg/config"
	"github.com/aretw0/sessionstate/pkg/domain"
	"github.com/aretw0/sessionstate/pkg/persistence/middleware"
	"github.com/aretw0/sessionstate/pkg/ports"
)

// NewFromConfig validates cfg and creates a Provider from it.
// When store is nil a Redis store is built from cfg.Redis and closed by Provider.Close.
// Items are sealed with cfg.Encryption when a key is configured.
// opts are applied after the configured ones.
func NewFromConfig(cfg config.Config, store ports.SessionStore, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var owned *redis.Store
	if store == nil {
		owned = NewRedisStore(cfg)
		store = owned
	}
	store, err := SecureStore(cfg, store)
	if err != nil {
		if owned != nil {
			_ = owned.Close()
		}
		return nil, err
	}

	base := []Option{
		WithVersionSource(cfg.Versioning.Source()),
		WithDefaultTimeout(cfg.Session.Timeout),
		WithRequestTimeout(cfg.Session.RequestTimeout),
		WithGuard(cfg.Expiry.Guard),
		WithPollingInterval(cfg.Expiry.PollingInterval),
		WithCapacity(cfg.Expiry.Capacity),
	}
	if !cfg.Expiry.Enabled {
		base = append(base, WithoutExpiry())
	}

	p, err := New(store, append(base, opts...)...)
	if err != nil {
		if owned != nil {
			_ = owned.Close()
		}
		return nil, err
	}
	if owned != nil {
		p.closer = owned
	}
	return p, nil
}

// SecureStore wraps store with item encryption when cfg.Encryption has a key.
func SecureStore(cfg config.Config, store ports.SessionStore) (ports.SessionStore, error) {
	if !cfg.Encryption.Enabled() {
		return store, nil
	}
	active, fallback, err := cfg.Encryption.Keys()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}
	return middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    active,
		FallbackKeys: fallback,
	})(store), nil
}

// NewRedisStore builds the Redis store described by cfg.
func NewRedisStore(cfg config.Config) *redis.Store {
	return redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
		redis.WithPrefix(cfg.Redis.KeyPrefix),
		redis.WithLockTTL(cfg.Redis.LockTTL),
		redis.WithGrace(cfg.Expiry.Grace),
	)
}
