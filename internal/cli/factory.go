package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/sessionstate"
	"github.com/aretw0/sessionstate/pkg/adapters/memory"
	"github.com/aretw0/sessionstate/pkg/config"
	"github.com/aretw0/sessionstate/pkg/observability"
	"github.com/aretw0/sessionstate/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Options are the flags shared by every command.
type Options struct {
	ConfigPath string
	Debug      bool
	// Memory replaces Redis with a process-local store.
	Memory bool
	// JSON forces machine-readable output even on a terminal.
	JSON bool
}

// LoadConfig reads the configuration file named by opts.
func LoadConfig(opts Options) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// OpenStore builds the store selected by opts and checks that it is reachable.
// The returned function releases it.
func OpenStore(ctx context.Context, cfg config.Config, opts Options) (ports.SessionStore, func() error, error) {
	if opts.Memory {
		return memory.NewStore(memory.WithGrace(cfg.Expiry.Grace)), func() error { return nil }, nil
	}

	store := sessionstate.NewRedisStore(cfg)
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
	}
	return store, store.Close, nil
}

// Environment is everything a long-running command needs.
type Environment struct {
	Config   config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Provider *sessionstate.Provider

	closeStore func() error
}

// NewEnvironment loads configuration, opens the store and builds an instrumented Provider.
func NewEnvironment(ctx context.Context, opts Options) (*Environment, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := createLogger(opts.Debug, cfg.LogLevel)

	store, closeStore, err := OpenStore(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	provider, err := sessionstate.NewFromConfig(cfg, store,
		sessionstate.WithLogger(logger),
		sessionstate.WithMetrics(observability.NewMetrics(reg)),
	)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("error initializing sessionstate: %w", err)
	}

	logger.Debug("Provider ready",
		"store", storeName(opts),
		"version", provider.Version(),
		"source", provider.Tagger().Kind().String(),
	)

	return &Environment{
		Config:     cfg,
		Logger:     logger,
		Registry:   reg,
		Provider:   provider,
		closeStore: closeStore,
	}, nil
}

// Close stops the provider and releases the store.
func (e *Environment) Close() error {
	err := e.Provider.Close()
	if cerr := e.closeStore(); err == nil {
		err = cerr
	}
	return err
}

func storeName(opts Options) string {
	if opts.Memory {
		return "memory"
	}
	return "redis"
}
