// Package identity defines the shared data model for anonymous-first accounts.
//
// # Overview
//
// An Identity is either Anonymous (no credential, auto-generated display name)
// or Permanent (email credential). Anonymous identities graduate to Permanent
// ones through a LinkRequest, which the linking coordinator drives through the
// states:
//
//	pending -> migrating -> committed | failed | conflict
//
// Sessions are handed to clients as opaque bearer tokens. When a link commits,
// every session of the anonymous identity is replaced and a SessionRedirect
// records old -> new so that clients still holding the old token are upgraded
// on their next request.
//
// # Errors
//
// All packages report failures through *Error, whose Kind is one of the
// taxonomy values (KindValidation, KindConflict, KindLeaseContention,
// KindMigrationFailure, KindSessionExpired, KindStoreUnavailable, KindNotFound).
// Use KindOf and IsRetryable rather than inspecting messages:
//
//	if identity.KindOf(err) == identity.KindConflict {
//		// another link is in flight or the email is taken
//	}
package identity
