// Package linking graduates anonymous identities to permanent ones.
//
// A link runs in two calls. BeginLink takes a time-bounded lease on the
// anonymous source identity and records a pending LinkRequest keyed by the
// caller's idempotency key. CommitLink then, in one store transaction,
// creates (or loads, for a merge) the permanent identity, migrates owned
// data through a Migrator, retires the anonymous identity, replaces its
// sessions with redirects to a new session and marks the request committed.
//
// A failed commit rolls back completely: the request ends Failed (or
// Conflict for a duplicate credential), the lease is released and the
// anonymous identity still owns all of its data. Committing an already
// committed request replays the stored result.
//
// Leases expire, so a crashed coordinator never strands an identity. A later
// BeginLink reclaims the expired lease and fails the stranded request before
// starting a new one; ReapStranded does the same from the janitor.
package linking
