/*
Package cli implements the idlink command line client.

Every command talks to an idlink server through pkg/client and keeps its
session token in a file (see sessionsync.FileTokenStore), so consecutive
invocations behave like one signed-in client:

	idlink anonymous
	idlink resources --add "first draft"
	idlink link --email ada@example.com --password '...'
	idlink whoami

Common flags accepted by every command:

	--server      server URL (default $IDLINK_SERVER or http://localhost:8080)
	--token-file  session token file (default under the user config dir)
	--timeout     per-request timeout
	--verbose     debug logging on stderr

A failed link always reports whether the anonymous data is intact.
*/
package cli
