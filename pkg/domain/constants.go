package domain

import "time"

const (
	// VersionKey is the reserved item key holding the application version tag.
	// It is never enumerated through the public Items accessors.
	VersionKey = "sessionstate.Version"

	// NoExpiration is reported by stores for records that carry no server-side expiry.
	NoExpiration time.Duration = -1

	// DefaultTimeout mirrors the classic 20 minute session window.
	DefaultTimeout = 20 * time.Minute

	// DefaultGrace is how long stores keep a record past its timeout, so the local
	// expiry tracker still finds it when its own window closes.
	DefaultGrace = 2 * time.Second
)
