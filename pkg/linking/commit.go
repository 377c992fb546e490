package linking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// errLostClaim means another actor moved the request while this commit was
// acquiring it; the caller reloads and reports the request's real state
var errLostClaim = errors.New("link request claimed elsewhere")

// CommitLink executes a pending link atomically. Committing an already
// committed request replays the original identity and session.
func (c *Coordinator) CommitLink(ctx context.Context, linkRequestID string) (res *CommitResult, err error) {
	const op = "linking.CommitLink"
	start := time.Now()
	ctx, span := c.startSpan(ctx, "linking.CommitLink", attribute.String("link.request_id", linkRequestID))
	defer func() {
		result := outcome(err)
		if err == nil && res.Replayed {
			result = "replayed"
		}
		endSpan(span, err)
		c.metrics.Link(ctx, "commit", result, time.Since(start))
	}()

	if linkRequestID == "" {
		return nil, linkError(identity.KindValidation, op, "link request id is required", nil)
	}
	if cached, ok := c.results.Get(linkRequestID); ok {
		return replayed(cached), nil
	}

	req, err := c.store.GetLinkRequest(ctx, linkRequestID)
	if err != nil {
		return nil, storeError(op, err)
	}
	if req.State.Terminal() {
		return c.settled(ctx, req)
	}

	policy := c.Policy()
	now := c.timestamp()

	acquired, err := c.store.AcquireLease(ctx, req.SourceIdentityID, req.ID, now, now.Add(policy.LeaseTTL))
	if err != nil {
		return nil, storeError(op, err)
	}
	if !acquired {
		return c.leaseRefused(ctx, req, now)
	}

	moved, err := c.store.TransitionLinkRequest(ctx, req.ID,
		[]identity.LinkState{identity.LinkPending, identity.LinkMigrating}, identity.LinkMigrating, "", now)
	if err != nil {
		c.releaseLease(ctx, req)
		return nil, storeError(op, err)
	}
	if !moved {
		c.releaseLease(ctx, req)
		return c.reload(ctx, req.ID)
	}
	req.State = identity.LinkMigrating

	result, err := c.migrate(ctx, req, policy, now)
	if err != nil {
		if errors.Is(err, errLostClaim) {
			return c.reload(ctx, req.ID)
		}
		return nil, c.fail(ctx, req, err)
	}

	c.results.Add(req.ID, result)
	c.metrics.Migrated(ctx, result.Migrated)
	c.metrics.SessionIssued(ctx, "link")

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"link_request_id":    req.ID,
		"source_identity_id": req.SourceIdentityID,
		"identity_id":        result.Identity.ID,
		"migrated":           result.Migrated,
		"retention":          string(policy.Retention),
	}).Info("Link committed")

	return result, nil
}

// migrate runs the commit transaction
func (c *Coordinator) migrate(ctx context.Context, req *identity.LinkRequest, policy Policy, now time.Time) (*CommitResult, error) {
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	result, err := c.migrateTx(ctx, tx, req, policy, now)
	if err != nil {
		rollback(ctx, tx)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		rollback(ctx, tx)
		return nil, err
	}
	return result, nil
}

func (c *Coordinator) migrateTx(ctx context.Context, tx storage.Tx, req *identity.LinkRequest, policy Policy, now time.Time) (*CommitResult, error) {
	// Lock the source row first, then the request row, so a concurrent
	// reclaim in BeginLink takes the locks in the same order
	held, err := tx.AcquireLease(ctx, req.SourceIdentityID, req.ID, now, now.Add(policy.LeaseTTL))
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, errLostClaim
	}
	claimed, err := tx.TransitionLinkRequest(ctx, req.ID,
		[]identity.LinkState{identity.LinkMigrating}, identity.LinkMigrating, "", now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, errLostClaim
	}

	source, err := tx.GetIdentity(ctx, req.SourceIdentityID)
	if err != nil {
		return nil, err
	}
	if !source.IsAnonymous() || source.Consumed() {
		return nil, linkError(identity.KindConflict, "linking.CommitLink", "source identity is no longer anonymous", nil)
	}

	target, err := c.target(ctx, tx, req, source, now)
	if err != nil {
		return nil, err
	}

	migrated, err := c.migrator.Migrate(ctx, tx, source.ID, target.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate owned data: %w", err)
	}

	session := &identity.Session{
		ID:          uuid.NewString(),
		IdentityID:  target.ID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(policy.SessionTTL),
		Refreshable: true,
	}
	if err := tx.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	oldSessions, err := tx.ListSessionIDs(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	for _, old := range oldSessions {
		if err := tx.CreateRedirect(ctx, &identity.SessionRedirect{
			OldSessionID: old,
			NewSessionID: session.ID,
			IdentityID:   target.ID,
			CreatedAt:    now,
		}); err != nil {
			return nil, err
		}
	}
	if _, err := tx.DeleteSessionsForIdentity(ctx, source.ID); err != nil {
		return nil, err
	}

	switch policy.Retention {
	case identity.RetainArchive:
		err = tx.ArchiveIdentity(ctx, source.ID, target.ID, now)
	default:
		err = tx.DeleteIdentity(ctx, source.ID)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.CompleteLinkRequest(ctx, req.ID, target.ID, session.ID, now); err != nil {
		return nil, err
	}

	done := *req
	done.State = identity.LinkCommitted
	done.ResultIdentityID = target.ID
	done.ResultSessionID = session.ID
	done.FailureReason = ""
	done.UpdatedAt = now

	return &CommitResult{
		Identity: target,
		Session:  session,
		Token:    c.tokens.Issue(session.ID),
		Request:  &done,
		Migrated: migrated,
	}, nil
}

// target creates the permanent identity or loads the merge target
func (c *Coordinator) target(ctx context.Context, tx storage.Tx, req *identity.LinkRequest, source *identity.Identity, now time.Time) (*identity.Identity, error) {
	if req.IsMerge() {
		target, err := tx.GetIdentity(ctx, req.TargetIdentityID)
		if err != nil {
			return nil, err
		}
		if target.IsAnonymous() {
			return nil, linkError(identity.KindValidation, "linking.CommitLink", "merge target must be a permanent identity", nil)
		}
		return target, nil
	}

	name := req.DisplayName
	if name == "" {
		name = source.DisplayName
	}
	target := &identity.Identity{
		ID:          uuid.NewString(),
		Kind:        identity.KindPermanent,
		Credential:  req.TargetCredential,
		DisplayName: name,
		LinkedFrom:  source.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if err := tx.CreateIdentity(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}

// fail records a failed commit. The transaction is already rolled back, so
// the anonymous identity is untouched; only the request state and the lease
// change here, on a context that outlives the caller's cancellation.
func (c *Coordinator) fail(ctx context.Context, req *identity.LinkRequest, cause error) error {
	const op = "linking.CommitLink"
	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"link_request_id":    req.ID,
		"source_identity_id": req.SourceIdentityID,
	}).WithError(cause)

	detached := context.WithoutCancel(ctx)
	defer c.releaseLease(detached, req)

	classified := storeError(op, cause)
	kind := identity.KindOf(classified)
	switch {
	case errors.Is(cause, storage.ErrDuplicate):
		c.markTerminal(detached, req, identity.LinkConflict, "credential already belongs to another identity")
		logger.Info("Link commit conflicted")
		return linkError(identity.KindConflict, op, "credential already belongs to another identity", cause)
	case kind == identity.KindStoreUnavailable:
		// Left migrating so a retry resumes it; the janitor fails it if nobody does
		logger.Warn("Link commit interrupted by store outage")
		return classified
	case kind == identity.KindConflict:
		c.markTerminal(detached, req, identity.LinkConflict, cause.Error())
		logger.Info("Link commit conflicted")
		return classified
	case kind == identity.KindValidation:
		c.markTerminal(detached, req, identity.LinkFailed, cause.Error())
		logger.Warn("Link commit rejected")
		return classified
	default:
		c.markTerminal(detached, req, identity.LinkFailed, cause.Error())
		logger.Error("Link commit failed; anonymous data intact")
		return linkError(identity.KindMigrationFailure, op, "migration aborted", cause)
	}
}

func (c *Coordinator) markTerminal(ctx context.Context, req *identity.LinkRequest, state identity.LinkState, reason string) {
	_, err := c.store.TransitionLinkRequest(ctx, req.ID,
		[]identity.LinkState{identity.LinkPending, identity.LinkMigrating}, state, reason, c.timestamp())
	if err != nil {
		observability.FromContext(ctx).WithError(err).WithField("link_request_id", req.ID).
			Error("Failed to record link request outcome")
	}
}

func (c *Coordinator) releaseLease(ctx context.Context, req *identity.LinkRequest) {
	if err := c.store.ReleaseLease(ctx, req.SourceIdentityID, req.ID); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("link_request_id", req.ID).
			Warn("Failed to release link lease; it will expire")
	}
}

// leaseRefused explains why the source lease could not be taken
func (c *Coordinator) leaseRefused(ctx context.Context, req *identity.LinkRequest, now time.Time) (*CommitResult, error) {
	const op = "linking.CommitLink"

	current, err := c.store.GetLinkRequest(ctx, req.ID)
	if err != nil {
		return nil, storeError(op, err)
	}
	if current.State.Terminal() {
		return c.settled(ctx, current)
	}

	source, err := c.store.GetIdentity(ctx, req.SourceIdentityID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, storeError(op, err)
	}
	if source == nil || !source.IsAnonymous() || source.Consumed() {
		c.markTerminal(context.WithoutCancel(ctx), req, identity.LinkFailed, "source identity no longer available")
		return nil, linkError(identity.KindConflict, op, "source identity is no longer anonymous", nil)
	}

	c.metrics.LeaseContention()
	e := linkError(identity.KindLeaseContention, op, "source identity is leased by another link", nil)
	if source.LeaseExpiresAt != nil {
		e.Message = fmt.Sprintf("source identity is leased by another link until %s", source.LeaseExpiresAt.Format(time.RFC3339))
	}
	return nil, e
}

// reload reports the state another actor left the request in
func (c *Coordinator) reload(ctx context.Context, id string) (*CommitResult, error) {
	const op = "linking.CommitLink"
	if cached, ok := c.results.Get(id); ok {
		return replayed(cached), nil
	}
	req, err := c.store.GetLinkRequest(ctx, id)
	if err != nil {
		return nil, storeError(op, err)
	}
	if req.State.Terminal() {
		return c.settled(ctx, req)
	}
	c.metrics.LeaseContention()
	return nil, linkError(identity.KindLeaseContention, op, "link request is being committed elsewhere", nil)
}

// settled answers for a request in a terminal state
func (c *Coordinator) settled(ctx context.Context, req *identity.LinkRequest) (*CommitResult, error) {
	const op = "linking.CommitLink"
	if req.State != identity.LinkCommitted {
		return nil, stateError(op, req)
	}

	ident, err := c.store.GetIdentity(ctx, req.ResultIdentityID)
	if err != nil {
		return nil, storeError(op, err)
	}
	sess, err := c.store.GetSession(ctx, req.ResultSessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, linkError(identity.KindSessionExpired, op, "link committed but its session has ended; sign in again", nil)
	}
	if err != nil {
		return nil, storeError(op, err)
	}

	result := &CommitResult{
		Identity: ident,
		Session:  sess,
		Token:    c.tokens.Issue(sess.ID),
		Request:  req,
	}
	c.results.Add(req.ID, result)
	return replayed(result), nil
}

func replayed(r *CommitResult) *CommitResult {
	cp := *r
	cp.Replayed = true
	return &cp
}
