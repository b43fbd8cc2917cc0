package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/sessionstate/pkg/domain"
	"github.com/google/uuid"
)

type entry struct {
	record     *domain.Record
	lock       domain.LockID
	lockedAt   time.Time
	initialize bool
	expiresAt  time.Time
}

// Store implements ports.SessionStore in memory.
// Safe for concurrent use. Expired records are dropped lazily on access.
type Store struct {
	data map[string]*entry
	mu    sync.Mutex
	now   func() time.Time
	grace time.Duration
}

// Option configures the Store.
type Option func(*Store)

// WithClock replaces time.Now, letting tests drive expiry deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithGrace keeps records for d past their session timeout (default: domain.DefaultGrace).
// GetRemainingTTL reports the session time left, excluding the grace.
func WithGrace(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// NewStore creates a new in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		data:  make(map[string]*entry),
		now:   time.Now,
		grace: domain.DefaultGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lookup returns the live entry for id. Caller must hold s.mu.
func (s *Store) lookup(id string) *entry {
	e, ok := s.data[id]
	if !ok {
		return nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.data, id)
		return nil
	}
	return e
}

func (s *Store) touch(e *entry) {
	e.expiresAt = s.now().Add(e.record.Timeout + s.grace)
}

// CreateUninitializedItem persists an empty record flagged for initialization.
func (s *Store) CreateUninitializedItem(ctx context.Context, id string, items *domain.Items, timeout time.Duration) error {
	if items == nil {
		items = domain.NewItems()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{
		record:     &domain.Record{Items: items.Clone(), Timeout: timeout},
		initialize: true,
	}
	e.record.Items.MarkClean()
	s.touch(e)
	s.data[id] = e
	return nil
}

// GetItem reads a record without locking it.
func (s *Store) GetItem(ctx context.Context, id string) (*domain.GetItemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(id)
	if e == nil {
		return &domain.GetItemResult{}, nil
	}
	if e.lock != "" {
		return &domain.GetItemResult{Locked: true, LockAge: s.now().Sub(e.lockedAt)}, nil
	}
	s.touch(e)
	return &domain.GetItemResult{Record: e.record.Clone(), Actions: s.actions(e, false)}, nil
}

// GetItemExclusive locks and reads a record. It does not refresh the record expiry.
func (s *Store) GetItemExclusive(ctx context.Context, id string) (*domain.GetItemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(id)
	if e == nil {
		return &domain.GetItemResult{}, nil
	}
	if e.lock != "" {
		return &domain.GetItemResult{Locked: true, LockAge: s.now().Sub(e.lockedAt)}, nil
	}
	e.lock = domain.LockID(uuid.NewString())
	e.lockedAt = s.now()
	return &domain.GetItemResult{
		Record:  e.record.Clone(),
		LockID:  e.lock,
		Actions: s.actions(e, true),
	}, nil
}

func (s *Store) actions(e *entry, consume bool) domain.Actions {
	if !e.initialize {
		return domain.ActionNone
	}
	if consume {
		e.initialize = false
	}
	return domain.ActionInitializeItem
}

// SetAndReleaseItemExclusive writes the record and releases the lock.
func (s *Store) SetAndReleaseItemExclusive(ctx context.Context, id string, record *domain.Record, lockID domain.LockID, newItem bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(id)
	if !newItem && (e == nil || e.lock != lockID || lockID == "") {
		return domain.ErrLockNotHeld
	}

	stored := record.Clone()
	if stored.Items == nil {
		stored.Items = domain.NewItems()
	}
	stored.Items.MarkClean()
	if stored.Timeout <= 0 {
		stored.Timeout = domain.DefaultTimeout
		if e != nil {
			stored.Timeout = e.record.Timeout
		}
	}

	next := &entry{record: stored}
	s.touch(next)
	s.data[id] = next
	return nil
}

// ReleaseItemExclusive releases the lock if lockID still owns it.
func (s *Store) ReleaseItemExclusive(ctx context.Context, id string, lockID domain.LockID) error {
	if lockID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(id)
	if e == nil || e.lock != lockID {
		return nil
	}
	e.lock = ""
	s.touch(e)
	return nil
}

// RemoveItem deletes the record if it is unlocked or owned by lockID.
func (s *Store) RemoveItem(ctx context.Context, id string, lockID domain.LockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(id)
	if e == nil {
		return nil
	}
	if e.lock != "" && e.lock != lockID {
		return domain.ErrLockNotHeld
	}
	delete(s.data, id)
	return nil
}

// ResetItemTimeout restarts the record expiry.
func (s *Store) ResetItemTimeout(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.lookup(id); e != nil {
		s.touch(e)
	}
	return nil
}

// GetRemainingTTL returns the time left before the record expires.
func (s *Store) GetRemainingTTL(ctx context.Context, id string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(id)
	if e == nil {
		return 0, nil
	}
	return max(e.expiresAt.Sub(s.now())-s.grace, 0), nil
}

// List returns the live session IDs.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]string, 0, len(s.data))
	for id := range s.data {
		if s.lookup(id) != nil {
			sessions = append(sessions, id)
		}
	}
	return sessions, nil
}
