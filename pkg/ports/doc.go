/*
Package ports defines the driven ports (interfaces) consumed by sessionstate.

The core never talks to a concrete backend: it relies on a SessionStore that already
provides get / get-exclusive / set-and-release / remove / remaining-TTL operations with
per-id mutual exclusion. Adapters live under pkg/adapters.

# Key Interfaces

  - SessionStore: the remote key/lock-based session store.

RunSessionStoreContract is a reusable suite every adapter runs in its own tests.
*/
package ports
