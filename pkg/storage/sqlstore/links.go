package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/idlink/pkg/identity"
)

const linkColumns = `id, idempotency_key, source_identity_id, target_identity_id, credential_method, credential_email,
	credential_secret_hash, email_verified, display_name, state, failure_reason, result_identity_id, result_session_id,
	created_at, updated_at`

// CreateLinkRequest inserts a link request
func (q *queries) CreateLinkRequest(ctx context.Context, req *identity.LinkRequest) error {
	var method, email, secret string
	var verified bool
	if c := req.TargetCredential; c != nil {
		method = string(c.Method)
		email = identity.NormalizeEmail(c.Email)
		secret = c.SecretHash
		verified = c.EmailVerified
	}

	_, err := q.exec(ctx, `
		INSERT INTO link_requests (`+linkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		req.ID, req.IdempotencyKey, req.SourceIdentityID, nullString(req.TargetIdentityID),
		nullString(method), nullString(email), nullString(secret), verified,
		req.DisplayName, string(req.State), req.FailureReason,
		nullString(req.ResultIdentityID), nullString(req.ResultSessionID),
		utc(req.CreatedAt), utc(req.UpdatedAt),
	)
	return wrapErr("create link request", err)
}

// GetLinkRequest loads a link request by id
func (q *queries) GetLinkRequest(ctx context.Context, id string) (*identity.LinkRequest, error) {
	req, err := scanLinkRequest(q.queryRow(ctx, `SELECT `+linkColumns+` FROM link_requests WHERE id = $1`, id))
	if err != nil {
		return nil, wrapErr("get link request", err)
	}
	return req, nil
}

// GetLinkRequestByKey loads a link request by idempotency key
func (q *queries) GetLinkRequestByKey(ctx context.Context, idempotencyKey string) (*identity.LinkRequest, error) {
	req, err := scanLinkRequest(q.queryRow(ctx,
		`SELECT `+linkColumns+` FROM link_requests WHERE idempotency_key = $1`, idempotencyKey))
	if err != nil {
		return nil, wrapErr("get link request by key", err)
	}
	return req, nil
}

// GetInflightLinkRequest loads the pending or migrating request for a source
func (q *queries) GetInflightLinkRequest(ctx context.Context, sourceIdentityID string) (*identity.LinkRequest, error) {
	req, err := scanLinkRequest(q.queryRow(ctx, `
		SELECT `+linkColumns+` FROM link_requests
		WHERE source_identity_id = $1 AND state IN ('pending', 'migrating')`, sourceIdentityID))
	if err != nil {
		return nil, wrapErr("get in-flight link request", err)
	}
	return req, nil
}

// TransitionLinkRequest performs a conditional state change
func (q *queries) TransitionLinkRequest(ctx context.Context, id string, from []identity.LinkState, to identity.LinkState, reason string, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition link request: no source states given")
	}

	args := []any{id, string(to), reason, utc(at)}
	placeholders := make([]string, len(from))
	for i, s := range from {
		args = append(args, string(s))
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	n, err := q.execAffected(ctx, "transition link request", `
		UPDATE link_requests SET state = $2, failure_reason = $3, updated_at = $4
		WHERE id = $1 AND state IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompleteLinkRequest marks a migrating request committed
func (q *queries) CompleteLinkRequest(ctx context.Context, id, resultIdentityID, resultSessionID string, at time.Time) error {
	return q.execOne(ctx, "complete link request", `
		UPDATE link_requests
		SET state = 'committed', result_identity_id = $2, result_session_id = $3, failure_reason = '', updated_at = $4
		WHERE id = $1 AND state = 'migrating'`,
		id, resultIdentityID, resultSessionID, utc(at),
	)
}

func scanLinkRequest(row rowScanner) (*identity.LinkRequest, error) {
	var (
		req                   identity.LinkRequest
		state                 string
		target                sql.NullString
		method, email, secret sql.NullString
		verified              bool
		resultIdentity        sql.NullString
		resultSession         sql.NullString
	)
	err := row.Scan(&req.ID, &req.IdempotencyKey, &req.SourceIdentityID, &target, &method, &email,
		&secret, &verified, &req.DisplayName, &state, &req.FailureReason, &resultIdentity, &resultSession,
		&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return nil, err
	}

	req.State = identity.LinkState(state)
	req.TargetIdentityID = target.String
	if method.Valid {
		req.TargetCredential = &identity.Credential{
			Method:        identity.Method(method.String),
			Email:         email.String,
			SecretHash:    secret.String,
			EmailVerified: verified,
		}
	}
	req.ResultIdentityID = resultIdentity.String
	req.ResultSessionID = resultSession.String
	req.CreatedAt = req.CreatedAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	return &req, nil
}
