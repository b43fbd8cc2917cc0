/*
Package domain contains the core session-state models shared by every layer of sessionstate.

It defines what a session looks like to the host (an ordered item collection plus a timeout),
what a store read returns (a record, its lock state and an opaque lock token) and the sentinel
errors adapters wrap. This package is kept pure and free of I/O or persistence.

# Key Entities

  - Items: ordered key/value collection with a reserved, hidden version slot.
  - Record: the durable per-session state (Items + Timeout).
  - GetItemResult: the outcome of a store read, including lock contention.
  - ExpiredSession: the final snapshot delivered when a session ends.
*/
package domain
