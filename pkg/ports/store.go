package ports

import (
	"context"
	"time"

	"github.com/aretw0/sessionstate/pkg/domain"
)

// SessionStore defines the backing store of session records.
// Implementations must grant at most one exclusive lock holder per session ID.
type SessionStore interface {
	// CreateUninitializedItem persists an empty record flagged with domain.ActionInitializeItem.
	CreateUninitializedItem(ctx context.Context, id string, items *domain.Items, timeout time.Duration) error

	// GetItem reads a record without taking the lock.
	// If another holder owns the lock, the result is Locked and carries no record.
	GetItem(ctx context.Context, id string) (*domain.GetItemResult, error)

	// GetItemExclusive takes the exclusive lock and reads the record.
	// Contention is reported through GetItemResult.Locked, never as an error.
	GetItemExclusive(ctx context.Context, id string) (*domain.GetItemResult, error)

	// SetAndReleaseItemExclusive writes the record and releases the lock.
	// When newItem is false, lockID must own the lock or domain.ErrLockNotHeld is returned.
	SetAndReleaseItemExclusive(ctx context.Context, id string, record *domain.Record, lockID domain.LockID, newItem bool) error

	// ReleaseItemExclusive releases the lock without writing. An empty lockID is a no-op.
	ReleaseItemExclusive(ctx context.Context, id string, lockID domain.LockID) error

	// RemoveItem deletes the record and its lock. The session must be unlocked or owned by lockID.
	RemoveItem(ctx context.Context, id string, lockID domain.LockID) error

	// ResetItemTimeout restarts the server-side expiry using the stored timeout.
	ResetItemTimeout(ctx context.Context, id string) error

	// GetRemainingTTL returns the authoritative time left before the store expires the record.
	// It returns 0 for missing records and domain.NoExpiration for persistent ones.
	GetRemainingTTL(ctx context.Context, id string) (time.Duration, error)
}
