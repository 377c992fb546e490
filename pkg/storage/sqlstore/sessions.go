package sqlstore

import (
	"context"
	"time"

	"github.com/platinummonkey/idlink/pkg/identity"
)

// CreateSession inserts a session
func (q *queries) CreateSession(ctx context.Context, sess *identity.Session) error {
	_, err := q.exec(ctx, `
		INSERT INTO sessions (id, identity_id, issued_at, expires_at, refreshable)
		VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.IdentityID, utc(sess.IssuedAt), utc(sess.ExpiresAt), sess.Refreshable,
	)
	return wrapErr("create session", err)
}

// GetSession loads a session by id
func (q *queries) GetSession(ctx context.Context, id string) (*identity.Session, error) {
	var sess identity.Session
	err := q.queryRow(ctx, `
		SELECT id, identity_id, issued_at, expires_at, refreshable
		FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.IdentityID, &sess.IssuedAt, &sess.ExpiresAt, &sess.Refreshable)
	if err != nil {
		return nil, wrapErr("get session", err)
	}
	sess.IssuedAt = sess.IssuedAt.UTC()
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	return &sess, nil
}

// ExtendSession moves a session's expiry
func (q *queries) ExtendSession(ctx context.Context, id string, expiresAt time.Time) error {
	return q.execOne(ctx, "extend session",
		`UPDATE sessions SET expires_at = $2 WHERE id = $1`, id, utc(expiresAt))
}

// DeleteSession removes a session
func (q *queries) DeleteSession(ctx context.Context, id string) error {
	return q.execOne(ctx, "delete session", `DELETE FROM sessions WHERE id = $1`, id)
}

// ListSessionIDs returns the ids of every session owned by an identity
func (q *queries) ListSessionIDs(ctx context.Context, identityID string) ([]string, error) {
	rows, err := q.query(ctx, `SELECT id FROM sessions WHERE identity_id = $1 ORDER BY issued_at`, identityID)
	if err != nil {
		return nil, wrapErr("list sessions", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("scan session", err)
		}
		ids = append(ids, id)
	}
	return ids, wrapErr("list sessions", rows.Err())
}

// DeleteSessionsForIdentity removes every session of an identity
func (q *queries) DeleteSessionsForIdentity(ctx context.Context, identityID string) (int64, error) {
	return q.execAffected(ctx, "delete sessions", `DELETE FROM sessions WHERE identity_id = $1`, identityID)
}

// CreateRedirect records that an old session was replaced by a link commit
func (q *queries) CreateRedirect(ctx context.Context, redirect *identity.SessionRedirect) error {
	_, err := q.exec(ctx, `
		INSERT INTO session_redirects (old_session_id, new_session_id, identity_id, created_at)
		VALUES ($1, $2, $3, $4)`,
		redirect.OldSessionID, redirect.NewSessionID, redirect.IdentityID, utc(redirect.CreatedAt),
	)
	return wrapErr("create session redirect", err)
}

// GetRedirect looks up the replacement for an old session
func (q *queries) GetRedirect(ctx context.Context, oldSessionID string) (*identity.SessionRedirect, error) {
	var r identity.SessionRedirect
	err := q.queryRow(ctx, `
		SELECT old_session_id, new_session_id, identity_id, created_at
		FROM session_redirects WHERE old_session_id = $1`, oldSessionID,
	).Scan(&r.OldSessionID, &r.NewSessionID, &r.IdentityID, &r.CreatedAt)
	if err != nil {
		return nil, wrapErr("get session redirect", err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}
