package authflow

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// CreateResource records a piece of data owned by the caller's identity
func (o *Orchestrator) CreateResource(ctx context.Context, caller *identity.SessionView, kind, title string) (*identity.OwnedResource, error) {
	const op = "authflow.CreateResource"

	if caller == nil || caller.Identity == nil {
		return nil, identity.NewError(identity.KindSessionExpired, op, "a session is required")
	}
	kind, title = strings.TrimSpace(kind), strings.TrimSpace(title)
	if kind == "" || title == "" {
		return nil, identity.NewError(identity.KindValidation, op, "kind and title are required")
	}

	res := &identity.OwnedResource{
		ID:        uuid.NewString(),
		OwnerID:   caller.Identity.ID,
		Kind:      kind,
		Title:     title,
		CreatedAt: o.timestamp(),
	}
	return withRetry(ctx, o, func(ctx context.Context) (*identity.OwnedResource, error) {
		if err := o.store.CreateResource(ctx, res); err != nil {
			return nil, storage.Classify(op, err)
		}
		return res, nil
	})
}

// ListResources returns the caller's resources, oldest first
func (o *Orchestrator) ListResources(ctx context.Context, caller *identity.SessionView) ([]*identity.OwnedResource, error) {
	const op = "authflow.ListResources"

	if caller == nil || caller.Identity == nil {
		return nil, identity.NewError(identity.KindSessionExpired, op, "a session is required")
	}
	return withRetry(ctx, o, func(ctx context.Context) ([]*identity.OwnedResource, error) {
		list, err := o.store.ListResources(ctx, caller.Identity.ID)
		return list, storage.Classify(op, err)
	})
}
