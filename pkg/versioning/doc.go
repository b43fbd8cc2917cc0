/*
Package versioning invalidates session payloads written by an incompatible application build.

A Tagger stamps the current application version into a reserved slot of every payload it
writes. A Sanitizer checks that slot on every read and, on mismatch, clears the payload in
the store under the session's exclusive lock, whether or not the caller already holds it.

The current version is resolved once, when the Tagger is built, from one of a closed set
of sources: Disabled, Fixed, Auto (Go build metadata) or Custom.
*/
package versioning
