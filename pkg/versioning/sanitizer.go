package versioning

import (
	"context"
	"log/slog"

	"github.com/aretw0/sessionstate/internal/logging"
	"github.com/aretw0/sessionstate/pkg/domain"
	"github.com/aretw0/sessionstate/pkg/observability"
	"github.com/aretw0/sessionstate/pkg/ports"
)

// Sanitizer clears payloads carrying a stale version tag, in the store and in the result.
type Sanitizer struct {
	store   ports.SessionStore
	tagger  *Tagger
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures the Sanitizer.
type Option func(*Sanitizer)

// WithLogger configures a logger for the Sanitizer.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sanitizer) {
		s.logger = logger
	}
}

// WithMetrics records sanitization outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Sanitizer) {
		s.metrics = m
	}
}

// NewSanitizer creates a Sanitizer writing through store.
func NewSanitizer(store ports.SessionStore, tagger *Tagger, opts ...Option) *Sanitizer {
	s := &Sanitizer{
		store:  store,
		tagger: tagger,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tagger returns the tagger deciding which payloads are stale.
func (s *Sanitizer) Tagger() *Tagger {
	return s.tagger
}

// Sanitize returns a result whose payload was written by the current version.
//
// exclusive tells whether result came from an exclusive read, i.e. the caller holds the lock.
// Valid and absent payloads are returned as is. A stale payload is cleared under the lock,
// persisted as an existing item and re-read with the caller's access mode. If the lock is
// held elsewhere, the stale result is returned untouched and nothing is written.
// Store errors are returned unmodified.
func (s *Sanitizer) Sanitize(ctx context.Context, id string, result *domain.GetItemResult, exclusive bool) (*domain.GetItemResult, error) {
	if result == nil || result.Record == nil || !s.tagger.Enabled() {
		return result, nil
	}
	if s.tagger.Matches(result.Record.Items) {
		s.metrics.Sanitize(observability.SanitizeValid)
		return result, nil
	}

	stale, _ := result.Record.Items.Version()
	current := result
	if !exclusive {
		locked, err := s.store.GetItemExclusive(ctx, id)
		if err != nil {
			return nil, err
		}
		if locked.Locked {
			s.metrics.Sanitize(observability.SanitizeContended)
			s.logger.Debug("Stale session locked elsewhere, deferring sanitization",
				"session_id", id,
				"stored_version", stale,
			)
			return result, nil
		}
		if locked.Record == nil {
			s.metrics.Sanitize(observability.SanitizeVanished)
			return locked, nil
		}
		if s.tagger.Matches(locked.Record.Items) {
			// Another holder sanitized it between our two reads.
			s.metrics.Sanitize(observability.SanitizeRaced)
			if err := s.store.ReleaseItemExclusive(ctx, id, locked.LockID); err != nil {
				return nil, err
			}
			return s.store.GetItem(ctx, id)
		}
		current = locked
	}

	if current.Record.Items == nil {
		current.Record.Items = domain.NewItems()
	}
	current.Record.Items.Clear()
	s.tagger.Stamp(current.Record.Items)

	// Persisted as an existing item: hosts reset pending writes on new items,
	// which would resurrect the stale payload at the end of the request.
	if err := s.store.SetAndReleaseItemExclusive(ctx, id, current.Record, current.LockID, false); err != nil {
		return nil, err
	}

	s.metrics.Sanitize(observability.SanitizeCleared)
	s.logger.Info("Cleared session written by another version",
		"session_id", id,
		"stored_version", stale,
		"current_version", s.tagger.Version(),
	)

	if exclusive {
		return s.store.GetItemExclusive(ctx, id)
	}
	return s.store.GetItem(ctx, id)
}
