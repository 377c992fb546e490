package linking

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// ReapStranded fails pending or migrating requests untouched for olderThan
// whose lease is no longer live, and releases their leases. It returns the
// number of requests failed.
func (c *Coordinator) ReapStranded(ctx context.Context, olderThan time.Duration) (int, error) {
	const op = "linking.ReapStranded"
	now := c.timestamp()

	stale, err := c.store.ListStaleLinkRequests(ctx, now.Add(-olderThan))
	if err != nil {
		return 0, storeError(op, err)
	}

	reaped := 0
	for _, req := range stale {
		source, err := c.store.GetIdentity(ctx, req.SourceIdentityID)
		switch {
		case err == nil:
			if source.LeaseOwner == req.ID && source.LeaseHeld(now) {
				continue
			}
		case !errors.Is(err, storage.ErrNotFound):
			return reaped, storeError(op, err)
		}

		moved, err := c.store.TransitionLinkRequest(ctx, req.ID,
			[]identity.LinkState{identity.LinkPending, identity.LinkMigrating},
			identity.LinkFailed, "stranded: lease expired", now)
		if err != nil {
			return reaped, storeError(op, err)
		}
		if !moved {
			continue
		}
		c.releaseLease(ctx, req)
		reaped++

		observability.FromContext(ctx).WithFields(map[string]interface{}{
			"link_request_id":    req.ID,
			"source_identity_id": req.SourceIdentityID,
			"state":              string(req.State),
		}).Warn("Reaped stranded link request")
	}
	return reaped, nil
}
