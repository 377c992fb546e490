package authflow

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/linking"
)

// LinkInput is an explicit begin-link request
type LinkInput struct {
	// SourceIdentityID defaults to the caller's identity
	SourceIdentityID string
	IdempotencyKey   string
	Method           identity.Method
	Email            string
	Password         string
	DisplayName      string
}

// BeginLink starts an explicit link of the caller's anonymous identity
func (o *Orchestrator) BeginLink(ctx context.Context, caller *identity.SessionView, in LinkInput) (*identity.LinkRequest, error) {
	const op = "authflow.BeginLink"

	if caller == nil || caller.Identity == nil {
		return nil, identity.NewError(identity.KindSessionExpired, op, "a session is required")
	}
	source := strings.TrimSpace(in.SourceIdentityID)
	if source == "" {
		source = caller.Identity.ID
	}
	if source != caller.Identity.ID {
		return nil, identity.NewError(identity.KindValidation, op, "source identity does not belong to this session")
	}

	method := in.Method
	if method == "" {
		method = identity.MethodPassword
	}
	cred := &identity.Credential{Method: method, Email: identity.NormalizeEmail(in.Email)}
	if method == identity.MethodPassword {
		hash, err := o.hasher.Hash(in.Password)
		if err != nil {
			return nil, err
		}
		cred.SecretHash = hash
	}

	return withRetry(ctx, o, func(ctx context.Context) (*identity.LinkRequest, error) {
		return o.coord.BeginLink(ctx, linking.BeginRequest{
			SourceIdentityID: source,
			IdempotencyKey:   in.IdempotencyKey,
			Credential:       cred,
			DisplayName:      strings.TrimSpace(in.DisplayName),
		})
	})
}

// CommitLink commits a link request begun by the caller. The caller may
// present either the anonymous token or its replacement.
func (o *Orchestrator) CommitLink(ctx context.Context, caller *identity.SessionView, linkRequestID string) (*identity.LinkOutcome, error) {
	if _, err := o.GetLink(ctx, caller, linkRequestID); err != nil {
		return nil, err
	}

	res, err := withRetry(ctx, o, func(ctx context.Context) (*linking.CommitResult, error) {
		return o.coord.CommitLink(ctx, linkRequestID)
	})
	if err != nil {
		return nil, err
	}
	return linkResult(res), nil
}

// GetLink returns a link request visible to the caller
func (o *Orchestrator) GetLink(ctx context.Context, caller *identity.SessionView, linkRequestID string) (*identity.LinkRequest, error) {
	const op = "authflow.GetLink"

	if caller == nil || caller.Identity == nil {
		return nil, identity.NewError(identity.KindSessionExpired, op, "a session is required")
	}
	req, err := withRetry(ctx, o, func(ctx context.Context) (*identity.LinkRequest, error) {
		return o.coord.GetLink(ctx, linkRequestID)
	})
	if err != nil {
		return nil, err
	}

	id := caller.Identity.ID
	if id != req.SourceIdentityID && id != req.ResultIdentityID {
		return nil, identity.NewError(identity.KindNotFound, op, "link request not found")
	}
	return req, nil
}

// implicitLink runs begin and commit back to back for a sign-in or sign-up
// made from an anonymous session
func (o *Orchestrator) implicitLink(ctx context.Context, in linking.BeginRequest) (*identity.AuthResult, error) {
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = uuid.NewString()
	}

	req, err := withRetry(ctx, o, func(ctx context.Context) (*identity.LinkRequest, error) {
		return o.coord.BeginLink(ctx, in)
	})
	if err != nil {
		return nil, err
	}

	res, err := withRetry(ctx, o, func(ctx context.Context) (*linking.CommitResult, error) {
		return o.coord.CommitLink(ctx, req.ID)
	})
	if err != nil {
		return nil, err
	}

	lr := linkResult(res)
	return &lr.AuthResult, nil
}

func linkResult(res *linking.CommitResult) *identity.LinkOutcome {
	return &identity.LinkOutcome{
		AuthResult: identity.AuthResult{
			Identity: identity.ProfileOf(res.Identity),
			Session:  identity.SessionToken{Token: res.Token, ExpiresAt: res.Session.ExpiresAt},
			Linked:   true,
		},
		LinkRequest: identity.LinkStatusOf(res.Request),
		Migrated:    res.Migrated,
		Replayed:    res.Replayed,
	}
}
