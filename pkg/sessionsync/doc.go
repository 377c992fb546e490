// Package sessionsync keeps a client's local (identity, session) pair
// convergent with the server.
//
// A Synchronizer is an explicit instance; there is no package-level session.
// It reconciles on a polling interval and on demand, and applies the result of
// every local auth action (sign-in, sign-up, sign-out, link) immediately.
//
// # Ordering
//
// Every fetch and every local action takes an observation number when it is
// issued. A result is applied only if its number is newer than the one
// already applied, so a slow poll that raced a local link commit is dropped.
// Identities that were linked away are retired and never shown again.
//
// # Single flight
//
// At most one reconciliation is in flight per Synchronizer. A timer refresh
// that fires while a manual one is outstanding joins it instead of issuing a
// second request.
//
// # Subscribers
//
// Subscribe returns a channel with a buffer of one. A slow subscriber only
// ever sees the latest snapshot; intermediate ones are replaced.
package sessionsync
