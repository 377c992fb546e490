// Package credential is the credential-store collaborator: password hashing
// with bcrypt and one-time magic-link tokens.
//
// The linking and auth-flow layers only see the Hasher and Sender
// interfaces, so tests can substitute cheap implementations.
package credential
