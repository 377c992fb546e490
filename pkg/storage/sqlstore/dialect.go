package sqlstore

import (
	"fmt"
	"regexp"
	"strings"
)

// Dialect identifies the SQL flavour of the backing database
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// ParseDialect maps a configured driver name onto a Dialect
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported storage driver %q (must be postgres or sqlite)", driver)
	}
}

var positionalParam = regexp.MustCompile(`\$(\d+)`)

// Rebind rewrites $N placeholders for the dialect. SQLite numbers named
// parameters in order of first appearance, so $N becomes ?N to keep the
// index explicit.
func (d Dialect) Rebind(query string) string {
	if d != SQLite {
		return query
	}
	return positionalParam.ReplaceAllString(query, "?$1")
}

func (d Dialect) timestampType() string {
	if d == Postgres {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}

// schema returns the DDL statements in dependency order
func (d Dialect) schema() []string {
	ts := d.timestampType()
	return []string{
		`CREATE TABLE IF NOT EXISTS identities (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			credential_method TEXT,
			credential_email TEXT,
			credential_secret_hash TEXT,
			email_verified BOOLEAN NOT NULL DEFAULT FALSE,
			linked_from TEXT,
			lease_owner TEXT,
			lease_expires_at ` + ts + `,
			consumed_at ` + ts + `,
			consumed_into TEXT,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL,
			CHECK (kind IN ('anonymous', 'permanent'))
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_identities_credential_email ON identities (credential_email)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			identity_id TEXT NOT NULL REFERENCES identities (id),
			issued_at ` + ts + ` NOT NULL,
			expires_at ` + ts + ` NOT NULL,
			refreshable BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE INDEX IF NOT EXISTS ix_sessions_identity ON sessions (identity_id)`,
		`CREATE INDEX IF NOT EXISTS ix_sessions_expires ON sessions (expires_at)`,
		`CREATE TABLE IF NOT EXISTS session_redirects (
			old_session_id TEXT PRIMARY KEY,
			new_session_id TEXT NOT NULL,
			identity_id TEXT NOT NULL,
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS link_requests (
			id TEXT PRIMARY KEY,
			idempotency_key TEXT NOT NULL UNIQUE,
			source_identity_id TEXT NOT NULL,
			target_identity_id TEXT,
			credential_method TEXT,
			credential_email TEXT,
			credential_secret_hash TEXT,
			email_verified BOOLEAN NOT NULL DEFAULT FALSE,
			display_name TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			result_identity_id TEXT,
			result_session_id TEXT,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL,
			CHECK (state IN ('pending', 'migrating', 'committed', 'failed', 'conflict'))
		)`,
		// At most one in-flight request per source identity
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_link_requests_inflight ON link_requests (source_identity_id)
			WHERE state IN ('pending', 'migrating')`,
		`CREATE TABLE IF NOT EXISTS owned_resources (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL REFERENCES identities (id),
			kind TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ix_owned_resources_owner ON owned_resources (owner_id)`,
		`CREATE TABLE IF NOT EXISTS magic_link_tokens (
			token_hash TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			expires_at ` + ts + ` NOT NULL,
			consumed_at ` + ts + `,
			created_at ` + ts + ` NOT NULL
		)`,
	}
}
