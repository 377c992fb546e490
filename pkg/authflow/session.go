package authflow

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// maxRedirectHops bounds how many link redirects a resolve follows
const maxRedirectHops = 3

// ResolveSession turns a bearer token into its session and identity. Tokens
// replaced by a link commit are followed to their replacement. A refreshable
// session older than the update age has its expiry extended.
func (o *Orchestrator) ResolveSession(ctx context.Context, token string) (view *identity.SessionView, err error) {
	const op = "authflow.ResolveSession"

	result := "ok"
	defer func() {
		if err != nil {
			result = sessionOutcome(err)
		}
		o.metrics.SessionResolve(ctx, result)
	}()

	sessionID, err := o.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	if v := o.cached(ctx, sessionID); v != nil {
		result = "cached"
		return v, nil
	}

	view, err = withRetry(ctx, o, func(ctx context.Context) (*identity.SessionView, error) {
		return o.lookup(ctx, op, sessionID)
	})
	if err != nil {
		return nil, err
	}
	if view.Redirected {
		result = "redirected"
	}

	if o.cache != nil {
		if cerr := o.cache.Set(ctx, view); cerr != nil {
			observability.FromContext(ctx).WithError(cerr).Warn("Failed to cache session")
		}
	}
	return view, nil
}

func (o *Orchestrator) cached(ctx context.Context, sessionID string) *identity.SessionView {
	if o.cache == nil {
		return nil
	}
	v, err := o.cache.Get(ctx, sessionID)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Session cache read failed")
	}
	if v == nil || v.Session.Expired(o.timestamp()) {
		o.metrics.Cache("session", false)
		return nil
	}
	o.metrics.Cache("session", true)
	v.Token = o.tokens.Issue(v.Session.ID)
	return v
}

func (o *Orchestrator) lookup(ctx context.Context, op, sessionID string) (*identity.SessionView, error) {
	var (
		sess       *identity.Session
		redirected bool
		err        error
	)
	for hop := 0; ; hop++ {
		sess, err = o.store.GetSession(ctx, sessionID)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, storage.Classify(op, err)
		}
		if hop == maxRedirectHops {
			return nil, identity.NewError(identity.KindSessionExpired, op, "too many session redirects")
		}

		rd, rerr := o.store.GetRedirect(ctx, sessionID)
		if errors.Is(rerr, storage.ErrNotFound) {
			return nil, identity.NewError(identity.KindSessionExpired, op, "session not found")
		}
		if rerr != nil {
			return nil, storage.Classify(op, rerr)
		}
		sessionID = rd.NewSessionID
		redirected = true
	}

	now := o.timestamp()
	if sess.Expired(now) {
		return nil, identity.NewError(identity.KindSessionExpired, op, "session expired")
	}

	ident, err := o.store.GetIdentity(ctx, sess.IdentityID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, identity.NewError(identity.KindSessionExpired, op, "session identity no longer exists")
	}
	if err != nil {
		return nil, storage.Classify(op, err)
	}
	if ident.Consumed() {
		return nil, identity.NewError(identity.KindSessionExpired, op, "session identity was linked")
	}

	if sess.Refreshable {
		ttl := o.coord.Policy().SessionTTL
		lastExtended := sess.ExpiresAt.Add(-ttl)
		if now.Sub(lastExtended) >= o.sessionUpdateAge() {
			expires := now.Add(ttl)
			if err := o.store.ExtendSession(ctx, sess.ID, expires); err != nil {
				return nil, storage.Classify(op, err)
			}
			sess.ExpiresAt = expires
		}
	}

	return &identity.SessionView{
		Identity:   ident,
		Session:    sess,
		Token:      o.tokens.Issue(sess.ID),
		Redirected: redirected,
	}, nil
}

// SignOut ends the session behind token. Signing out an already dead
// session succeeds.
func (o *Orchestrator) SignOut(ctx context.Context, token string) error {
	const op = "authflow.SignOut"

	view, err := o.ResolveSession(ctx, token)
	if errors.Is(err, identity.ErrSessionExpired) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := withRetry(ctx, o, func(ctx context.Context) (struct{}, error) {
		err := o.store.DeleteSession(ctx, view.Session.ID)
		if errors.Is(err, storage.ErrNotFound) {
			err = nil
		}
		return struct{}{}, storage.Classify(op, err)
	}); err != nil {
		return err
	}

	if o.cache != nil {
		if err := o.cache.Invalidate(ctx, view.Session.ID); err != nil {
			observability.FromContext(ctx).WithError(err).Warn("Failed to invalidate cached session")
		}
	}
	return nil
}

// currentSession resolves the caller's token for routing. A missing or dead
// token is no session; other failures are returned so a store outage never
// turns an implicit link into a plain sign-up.
func (o *Orchestrator) currentSession(ctx context.Context, token string) (*identity.SessionView, error) {
	if token == "" {
		return nil, nil
	}
	view, err := o.ResolveSession(ctx, token)
	if errors.Is(err, identity.ErrSessionExpired) {
		return nil, nil
	}
	return view, err
}

func (o *Orchestrator) issueSession(ctx context.Context, flow string, ident *identity.Identity) (*identity.AuthResult, error) {
	now := o.timestamp()
	sess := &identity.Session{
		ID:          uuid.NewString(),
		IdentityID:  ident.ID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(o.coord.Policy().SessionTTL),
		Refreshable: true,
	}
	if err := o.store.CreateSession(ctx, sess); err != nil {
		return nil, storage.Classify("authflow.issueSession", err)
	}

	o.metrics.SessionIssued(ctx, flow)
	return &identity.AuthResult{
		Identity: identity.ProfileOf(ident),
		Session:  identity.SessionToken{Token: o.tokens.Issue(sess.ID), ExpiresAt: sess.ExpiresAt},
	}, nil
}

func sessionOutcome(err error) string {
	switch identity.KindOf(err) {
	case identity.KindSessionExpired:
		return "expired"
	case identity.KindStoreUnavailable:
		return "unavailable"
	default:
		return "error"
	}
}
