package sqlstore

import (
	"context"
	"time"

	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// CreateResource inserts an owned resource
func (q *queries) CreateResource(ctx context.Context, res *identity.OwnedResource) error {
	_, err := q.exec(ctx, `
		INSERT INTO owned_resources (id, owner_id, kind, title, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		res.ID, res.OwnerID, res.Kind, res.Title, utc(res.CreatedAt),
	)
	return wrapErr("create resource", err)
}

// ListResources returns the resources owned by an identity, oldest first
func (q *queries) ListResources(ctx context.Context, ownerID string) ([]*identity.OwnedResource, error) {
	rows, err := q.query(ctx, `
		SELECT id, owner_id, kind, title, created_at
		FROM owned_resources WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, wrapErr("list resources", err)
	}
	defer rows.Close()

	resources := make([]*identity.OwnedResource, 0)
	for rows.Next() {
		var r identity.OwnedResource
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Kind, &r.Title, &r.CreatedAt); err != nil {
			return nil, wrapErr("scan resource", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		resources = append(resources, &r)
	}
	return resources, wrapErr("list resources", rows.Err())
}

// CountResources counts the resources owned by an identity
func (q *queries) CountResources(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := q.queryRow(ctx, `SELECT COUNT(*) FROM owned_resources WHERE owner_id = $1`, ownerID).Scan(&n)
	return n, wrapErr("count resources", err)
}

// ReassignResources re-points every resource of one owner to another
func (q *queries) ReassignResources(ctx context.Context, fromOwnerID, toOwnerID string) (int64, error) {
	return q.execAffected(ctx, "reassign resources",
		`UPDATE owned_resources SET owner_id = $2 WHERE owner_id = $1`, fromOwnerID, toOwnerID)
}

// CreateMagicLinkToken stores a hashed one-time token
func (q *queries) CreateMagicLinkToken(ctx context.Context, tok *identity.MagicLinkToken) error {
	_, err := q.exec(ctx, `
		INSERT INTO magic_link_tokens (token_hash, email, expires_at, consumed_at, created_at)
		VALUES ($1, $2, $3, NULL, $4)`,
		tok.TokenHash, identity.NormalizeEmail(tok.Email), utc(tok.ExpiresAt), utc(tok.CreatedAt),
	)
	return wrapErr("create magic link token", err)
}

// ConsumeMagicLinkToken burns a token so it can be used only once
func (q *queries) ConsumeMagicLinkToken(ctx context.Context, tokenHash string, now time.Time) (*identity.MagicLinkToken, error) {
	if err := q.execOne(ctx, "consume magic link token", `
		UPDATE magic_link_tokens SET consumed_at = $2
		WHERE token_hash = $1 AND consumed_at IS NULL AND expires_at > $2`,
		tokenHash, utc(now),
	); err != nil {
		return nil, err
	}

	var tok identity.MagicLinkToken
	var consumed time.Time
	err := q.queryRow(ctx, `
		SELECT token_hash, email, expires_at, consumed_at, created_at
		FROM magic_link_tokens WHERE token_hash = $1`, tokenHash,
	).Scan(&tok.TokenHash, &tok.Email, &tok.ExpiresAt, &consumed, &tok.CreatedAt)
	if err != nil {
		return nil, wrapErr("get magic link token", err)
	}
	consumed = consumed.UTC()
	tok.ConsumedAt = &consumed
	tok.ExpiresAt = tok.ExpiresAt.UTC()
	tok.CreatedAt = tok.CreatedAt.UTC()
	return &tok, nil
}

// DeleteExpiredSessions removes sessions past their expiry
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return s.execAffected(ctx, "delete expired sessions", `DELETE FROM sessions WHERE expires_at <= $1`, utc(now))
}

// ListStaleLinkRequests returns in-flight requests not touched since before
func (s *Store) ListStaleLinkRequests(ctx context.Context, updatedBefore time.Time) ([]*identity.LinkRequest, error) {
	rows, err := s.query(ctx, `
		SELECT `+linkColumns+` FROM link_requests
		WHERE state IN ('pending', 'migrating') AND updated_at < $1
		ORDER BY updated_at`, utc(updatedBefore))
	if err != nil {
		return nil, wrapErr("list stale link requests", err)
	}
	defer rows.Close()

	reqs := make([]*identity.LinkRequest, 0)
	for rows.Next() {
		req, err := scanLinkRequest(rows)
		if err != nil {
			return nil, wrapErr("scan link request", err)
		}
		reqs = append(reqs, req)
	}
	return reqs, wrapErr("list stale link requests", rows.Err())
}

// DeleteRedirectsBefore purges redirects created before the cutoff
func (s *Store) DeleteRedirectsBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.execAffected(ctx, "delete session redirects",
		`DELETE FROM session_redirects WHERE created_at < $1`, utc(before))
}

// DeleteMagicLinkTokensBefore purges tokens that expired before the cutoff
func (s *Store) DeleteMagicLinkTokensBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.execAffected(ctx, "delete magic link tokens",
		`DELETE FROM magic_link_tokens WHERE expires_at < $1`, utc(before))
}

var _ storage.Maintenance = (*Store)(nil)
