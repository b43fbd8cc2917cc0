// Package expiry predicts session ends locally for stores that cannot push expirations.
//
// A Tracker keeps one sliding window per session ID. When a window elapses without a refresh,
// the Reconciler registered for that ID checks the authoritative store, removes the record and
// publishes a domain.ExpiredSession through a Notifier. The store is always the ground truth:
// the tracker only decides when to ask.
package expiry
