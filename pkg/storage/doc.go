// Package storage defines the identity store contract used by the linking
// coordinator and the auth flow orchestrator.
//
// # Overview
//
// The store is consulted only through the interfaces in this package. They are
// split by concern and compose into Ops, which both Store and Tx implement:
//
//   - IdentityStore: identities plus the per-row migration lease
//   - SessionStore: sessions and old -> new session redirects
//   - LinkRequestStore: link requests with conditional state transitions
//   - ResourceStore: owned resources and their bulk re-pointing
//   - MagicLinkStore: one-time passwordless tokens
//
// Store adds BeginTx for the single multi-row transaction (the link commit),
// Migrate for schema setup, and the janitor's Maintenance operations.
//
// # Errors
//
// Implementations wrap ErrNotFound, ErrDuplicate and ErrUnavailable so callers
// can classify failures with errors.Is, or with Classify to get an
// *identity.Error.
//
// # Implementations
//
//   - sqlstore: database/sql over PostgreSQL (lib/pq) or SQLite (go-sqlite3)
//   - cache: Redis read-through cache for resolved permanent sessions
package storage
