package linking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// BeginLink records a pending link for an anonymous identity and takes its
// lease. Repeating a call with the same idempotency key returns the existing
// request unchanged.
func (c *Coordinator) BeginLink(ctx context.Context, in BeginRequest) (req *identity.LinkRequest, err error) {
	const op = "linking.BeginLink"
	start := time.Now()
	ctx, span := c.startSpan(ctx, "linking.BeginLink",
		attribute.String("link.source_identity_id", in.SourceIdentityID),
		attribute.Bool("link.merge", in.TargetIdentityID != ""),
	)
	defer func() {
		endSpan(span, err)
		c.metrics.Link(ctx, "begin", outcome(err), time.Since(start))
	}()

	if err := validateBegin(&in); err != nil {
		return nil, err
	}

	// Idempotent replay
	existing, err := c.store.GetLinkRequestByKey(ctx, in.IdempotencyKey)
	switch {
	case err == nil:
		if existing.SourceIdentityID != in.SourceIdentityID {
			return nil, linkError(identity.KindValidation, op, "idempotency key already used for a different identity", nil)
		}
		return existing, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, storeError(op, err)
	}

	now := c.timestamp()
	if err := c.checkSource(ctx, op, in.SourceIdentityID, now); err != nil {
		return nil, err
	}
	if err := c.checkTarget(ctx, op, &in); err != nil {
		return nil, err
	}

	policy := c.Policy()
	req = &identity.LinkRequest{
		ID:               uuid.NewString(),
		IdempotencyKey:   in.IdempotencyKey,
		SourceIdentityID: in.SourceIdentityID,
		TargetIdentityID: in.TargetIdentityID,
		DisplayName:      in.DisplayName,
		State:            identity.LinkPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if !req.IsMerge() {
		req.TargetCredential = in.Credential
	}

	created, err := c.insertPending(ctx, req, now, now.Add(policy.LeaseTTL))
	if err != nil {
		return nil, err
	}
	if created.ID == req.ID {
		observability.FromContext(ctx).WithFields(map[string]interface{}{
			"link_request_id":    req.ID,
			"source_identity_id": req.SourceIdentityID,
		}).Info("Link request started")
	}
	return created, nil
}

func validateBegin(in *BeginRequest) error {
	const op = "linking.BeginLink"
	if in.SourceIdentityID == "" {
		return linkError(identity.KindValidation, op, "source identity id is required", nil)
	}
	if in.IdempotencyKey == "" {
		return linkError(identity.KindValidation, op, "idempotency key is required", nil)
	}
	if in.TargetIdentityID != "" {
		if in.TargetIdentityID == in.SourceIdentityID {
			return linkError(identity.KindValidation, op, "cannot link an identity to itself", nil)
		}
		return nil
	}
	if in.Credential == nil {
		return linkError(identity.KindValidation, op, "target credential is required", nil)
	}
	cred := *in.Credential
	cred.Email = identity.NormalizeEmail(cred.Email)
	if err := cred.Validate(); err != nil {
		var e *identity.Error
		if errors.As(err, &e) {
			cp := *e
			cp.DataIntact = true
			return &cp
		}
		return err
	}
	in.Credential = &cred
	return nil
}

// checkSource verifies the source is a live, unleased anonymous identity.
// A held lease is reported without any write.
func (c *Coordinator) checkSource(ctx context.Context, op, sourceID string, now time.Time) error {
	src, err := c.store.GetIdentity(ctx, sourceID)
	if err != nil {
		return storeError(op, err)
	}
	if !src.IsAnonymous() {
		return linkError(identity.KindConflict, op, "identity is already permanent", nil)
	}
	if src.Consumed() {
		return linkError(identity.KindConflict, op, "identity was already linked", nil)
	}
	if src.LeaseHeld(now) {
		return linkError(identity.KindConflict, op, "a link is already in flight for this identity", nil)
	}
	return nil
}

// checkTarget pre-checks the credential or merge target. The commit
// transaction enforces the same rules through the unique email index.
func (c *Coordinator) checkTarget(ctx context.Context, op string, in *BeginRequest) error {
	if in.TargetIdentityID != "" {
		target, err := c.store.GetIdentity(ctx, in.TargetIdentityID)
		if err != nil {
			return storeError(op, err)
		}
		if target.IsAnonymous() {
			return linkError(identity.KindValidation, op, "merge target must be a permanent identity", nil)
		}
		return nil
	}

	_, err := c.store.GetIdentityByEmail(ctx, in.Credential.Email)
	switch {
	case err == nil:
		return linkError(identity.KindConflict, op, "credential already belongs to another identity", nil)
	case errors.Is(err, storage.ErrNotFound):
		return nil
	default:
		return storeError(op, err)
	}
}

// insertPending takes the lease and inserts the request in one transaction.
// An expired lease is reclaimed, failing whatever request stranded it.
func (c *Coordinator) insertPending(ctx context.Context, req *identity.LinkRequest, now, leaseUntil time.Time) (*identity.LinkRequest, error) {
	const op = "linking.BeginLink"

	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, storeError(op, err)
	}

	acquired, err := tx.AcquireLease(ctx, req.SourceIdentityID, req.ID, now, leaseUntil)
	if err != nil {
		rollback(ctx, tx)
		return nil, storeError(op, err)
	}
	if !acquired {
		rollback(ctx, tx)
		return c.resolveRace(ctx, req.IdempotencyKey, "a link is already in flight for this identity")
	}

	stranded, err := tx.GetInflightLinkRequest(ctx, req.SourceIdentityID)
	switch {
	case err == nil:
		if _, err := tx.TransitionLinkRequest(ctx, stranded.ID,
			[]identity.LinkState{identity.LinkPending, identity.LinkMigrating},
			identity.LinkFailed, "lease expired", now); err != nil {
			rollback(ctx, tx)
			return nil, storeError(op, err)
		}
		observability.FromContext(ctx).WithFields(map[string]interface{}{
			"link_request_id":    stranded.ID,
			"source_identity_id": stranded.SourceIdentityID,
		}).Warn("Reclaimed expired link lease")
	case !errors.Is(err, storage.ErrNotFound):
		rollback(ctx, tx)
		return nil, storeError(op, err)
	}

	if err := tx.CreateLinkRequest(ctx, req); err != nil {
		rollback(ctx, tx)
		if errors.Is(err, storage.ErrDuplicate) {
			return c.resolveRace(ctx, req.IdempotencyKey, "a link is already in flight for this identity")
		}
		return nil, storeError(op, err)
	}

	if err := tx.Commit(); err != nil {
		rollback(ctx, tx)
		if errors.Is(err, storage.ErrDuplicate) {
			return c.resolveRace(ctx, req.IdempotencyKey, "a link is already in flight for this identity")
		}
		return nil, storeError(op, err)
	}
	return req, nil
}

// resolveRace answers a caller that lost a race: a concurrent call with the
// same key wins idempotently, anything else is a conflict
func (c *Coordinator) resolveRace(ctx context.Context, key, msg string) (*identity.LinkRequest, error) {
	const op = "linking.BeginLink"
	existing, err := c.store.GetLinkRequestByKey(ctx, key)
	switch {
	case err == nil:
		return existing, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, linkError(identity.KindConflict, op, msg, nil)
	default:
		return nil, storeError(op, err)
	}
}
