package domain

import "errors"

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrLockNotHeld is returned when a write presents a lock token that no longer owns the session.
var ErrLockNotHeld = errors.New("session lock not held")

// ErrStoreUnavailable wraps transport failures of the backing store.
var ErrStoreUnavailable = errors.New("session store unavailable")

// ErrInvalidConfig is returned when the provider configuration cannot be used to serve traffic.
var ErrInvalidConfig = errors.New("invalid session state configuration")
