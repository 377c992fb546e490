package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/platinummonkey/idlink/pkg/identity"
)

const identityColumns = `id, kind, display_name, credential_method, credential_email, credential_secret_hash,
	email_verified, linked_from, lease_owner, lease_expires_at, consumed_at, consumed_into, created_at, updated_at`

// CreateIdentity inserts a new identity
func (q *queries) CreateIdentity(ctx context.Context, ident *identity.Identity) error {
	var method, email, secret string
	var verified bool
	if ident.Credential != nil {
		method = string(ident.Credential.Method)
		email = identity.NormalizeEmail(ident.Credential.Email)
		secret = ident.Credential.SecretHash
		verified = ident.Credential.EmailVerified
	}

	_, err := q.exec(ctx, `
		INSERT INTO identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, NULL, NULL, NULL, $9, $10)`,
		ident.ID, string(ident.Kind), ident.DisplayName,
		nullString(method), nullString(email), nullString(secret), verified,
		nullString(ident.LinkedFrom), utc(ident.CreatedAt), utc(ident.UpdatedAt),
	)
	return wrapErr("create identity", err)
}

// GetIdentity loads an identity by id
func (q *queries) GetIdentity(ctx context.Context, id string) (*identity.Identity, error) {
	row := q.queryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	ident, err := scanIdentity(row)
	if err != nil {
		return nil, wrapErr("get identity", err)
	}
	return ident, nil
}

// GetIdentityByEmail loads the permanent identity bound to an email
func (q *queries) GetIdentityByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	row := q.queryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE credential_email = $1`,
		identity.NormalizeEmail(email))
	ident, err := scanIdentity(row)
	if err != nil {
		return nil, wrapErr("get identity by email", err)
	}
	return ident, nil
}

// DeleteIdentity removes an identity row
func (q *queries) DeleteIdentity(ctx context.Context, id string) error {
	return q.execOne(ctx, "delete identity", `DELETE FROM identities WHERE id = $1`, id)
}

// ArchiveIdentity marks an identity consumed by a link
func (q *queries) ArchiveIdentity(ctx context.Context, id, into string, at time.Time) error {
	return q.execOne(ctx, "archive identity", `
		UPDATE identities
		SET consumed_at = $2, consumed_into = $3, lease_owner = NULL, lease_expires_at = NULL, updated_at = $2
		WHERE id = $1 AND consumed_at IS NULL`,
		id, utc(at), into,
	)
}

// AcquireLease takes or renews the migration lease on an anonymous identity
func (q *queries) AcquireLease(ctx context.Context, identityID, owner string, now, until time.Time) (bool, error) {
	n, err := q.execAffected(ctx, "acquire lease", `
		UPDATE identities
		SET lease_owner = $2, lease_expires_at = $3, updated_at = $4
		WHERE id = $1
			AND kind = 'anonymous'
			AND consumed_at IS NULL
			AND (lease_owner IS NULL OR lease_owner = $2 OR lease_expires_at IS NULL OR lease_expires_at <= $4)`,
		identityID, owner, utc(until), utc(now),
	)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseLease drops the lease if owner still holds it
func (q *queries) ReleaseLease(ctx context.Context, identityID, owner string) error {
	_, err := q.exec(ctx, `
		UPDATE identities SET lease_owner = NULL, lease_expires_at = NULL
		WHERE id = $1 AND lease_owner = $2`,
		identityID, owner,
	)
	return wrapErr("release lease", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*identity.Identity, error) {
	var (
		ident                  identity.Identity
		kind                   string
		method, email, secret  sql.NullString
		verified               bool
		linkedFrom, leaseOwner sql.NullString
		consumedInto           sql.NullString
		leaseExpires, consumed sql.NullTime
		createdAt, updatedAt   time.Time
	)
	err := row.Scan(&ident.ID, &kind, &ident.DisplayName, &method, &email, &secret,
		&verified, &linkedFrom, &leaseOwner, &leaseExpires, &consumed, &consumedInto, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	ident.Kind, err = identity.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	if method.Valid {
		ident.Credential = &identity.Credential{
			Method:        identity.Method(method.String),
			Email:         email.String,
			SecretHash:    secret.String,
			EmailVerified: verified,
		}
	}
	ident.LinkedFrom = linkedFrom.String
	ident.LeaseOwner = leaseOwner.String
	ident.LeaseExpiresAt = timePtr(leaseExpires)
	ident.ConsumedAt = timePtr(consumed)
	ident.ConsumedInto = consumedInto.String
	ident.CreatedAt = createdAt.UTC()
	ident.UpdatedAt = updatedAt.UTC()
	return &ident, nil
}
