/*
Package observability provides Prometheus instrumentation for sessionstate.

It counts sanitization outcomes, local eviction outcomes and delivered expiry
notifications, and tracks the size of the local expiry map. A nil *Metrics is a
valid no-op, so components never need to check whether metrics are enabled.
*/
package observability
