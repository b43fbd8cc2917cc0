package expiry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aretw0/sessionstate/internal/logging"
	"github.com/aretw0/sessionstate/pkg/domain"
	"github.com/aretw0/sessionstate/pkg/observability"
	"github.com/aretw0/sessionstate/pkg/ports"
)

const (
	// DefaultGuard is the largest store TTL still treated as expired.
	DefaultGuard = time.Second
	// DefaultRequestTimeout bounds one reconciliation, lock wait included.
	DefaultRequestTimeout = 5 * time.Second
	// DefaultLockPollInterval is the wait between lock attempts.
	DefaultLockPollInterval = 100 * time.Millisecond
)

var errLockTimeout = errors.New("lock not acquired in time")

// Reconciler checks a locally evicted session against the store.
type Reconciler interface {
	ReconcileExpired(ctx context.Context, id string)
}

// Handler reconciles evictions of one store and publishes confirmed session ends.
type Handler struct {
	store          ports.SessionStore
	notifier       *Notifier
	guard          time.Duration
	requestTimeout time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger
	metrics        *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// HandlerOption configures the Handler.
type HandlerOption func(*Handler)

// WithGuard sets the TTL threshold under which the store copy counts as expired.
func WithGuard(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d >= 0 {
			h.guard = d
		}
	}
}

// WithRequestTimeout bounds each reconciliation.
func WithRequestTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.requestTimeout = d
		}
	}
}

// WithLockPollInterval sets how often a busy lock is retried.
func WithLockPollInterval(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.pollInterval = d
		}
	}
}

// WithHandlerLogger configures a logger for the Handler.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithHandlerMetrics records reconciliation outcomes.
func WithHandlerMetrics(m *observability.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates a Handler reading store and publishing to notifier.
func NewHandler(store ports.SessionStore, notifier *Notifier, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:          store,
		notifier:       notifier,
		guard:          DefaultGuard,
		requestTimeout: DefaultRequestTimeout,
		pollInterval:   DefaultLockPollInterval,
		logger:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	return h
}

// Close stops pending and future reconciliations of this handler.
func (h *Handler) Close() {
	h.cancel()
}

// ReconcileExpired removes the session and publishes its final snapshot when the store agrees
// it has expired. Store failures abort the attempt; the store's own expiry remains the backstop.
func (h *Handler) ReconcileExpired(ctx context.Context, id string) {
	if h.ctx.Err() != nil {
		return
	}
	if !h.notifier.Subscribed() {
		h.metrics.Eviction(observability.EvictionUnsubscribed)
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	snapshot, err := h.take(ctx, id)
	if err != nil {
		outcome := observability.EvictionFailed
		if errors.Is(err, errLockTimeout) {
			outcome = observability.EvictionLocked
		}
		h.metrics.Eviction(outcome)
		h.logger.Debug("Expiry reconciliation abandoned", "session_id", id, "outcome", outcome, "err", err)
		return
	}
	if snapshot == nil {
		return
	}

	h.logger.Debug("Session expired", "session_id", id)
	if h.notifier.Deliver(ctx, domain.ExpiredSession{ID: id, Record: snapshot}) {
		h.metrics.Eviction(observability.EvictionExpired)
		h.metrics.Notified()
	}
}

// take locks the session, confirms expiry and deletes it. It returns the final record,
// or nil when the session must not be reported.
func (h *Handler) take(parent context.Context, id string) (*domain.Record, error) {
	ctx, cancel := context.WithTimeout(parent, h.requestTimeout)
	defer cancel()

	res, err := h.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.Record == nil {
		h.release(parent, id, res.LockID)
		h.metrics.Eviction(observability.EvictionMissing)
		return nil, nil
	}

	ttl, err := h.store.GetRemainingTTL(ctx, id)
	if err != nil {
		h.release(parent, id, res.LockID)
		return nil, err
	}
	if ttl == domain.NoExpiration || ttl > h.guard {
		h.release(parent, id, res.LockID)
		h.metrics.Eviction(observability.EvictionTTLRemaining)
		h.logger.Debug("Session still alive in store", "session_id", id, "ttl", ttl)
		return nil, nil
	}

	if err := h.store.RemoveItem(ctx, id, res.LockID); err != nil {
		h.release(parent, id, res.LockID)
		return nil, err
	}
	return res.Record, nil
}

// acquire polls the exclusive lock until it is granted or ctx ends.
func (h *Handler) acquire(ctx context.Context, id string) (*domain.GetItemResult, error) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		res, err := h.store.GetItemExclusive(ctx, id)
		if err != nil {
			return nil, err
		}
		if !res.Locked {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, errLockTimeout
		case <-ticker.C:
		}
	}
}

// release gives the lock back even when the reconciliation budget is spent.
func (h *Handler) release(parent context.Context, id string, lockID domain.LockID) {
	if lockID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), h.requestTimeout)
	defer cancel()
	if err := h.store.ReleaseItemExclusive(ctx, id, lockID); err != nil {
		h.logger.Debug("Failed to release session lock", "session_id", id, "err", err)
	}
}
