package authflow

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/idlink/pkg/credential"
	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/linking"
	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// SignUpInput creates a permanent identity
type SignUpInput struct {
	Email       string
	Password    string
	DisplayName string
	// CurrentToken is the caller's bearer token, if any
	CurrentToken string
	// IdempotencyKey is used when the sign-up becomes an implicit link
	IdempotencyKey string
}

// SignInInput authenticates an existing permanent identity
type SignInInput struct {
	Email          string
	Password       string
	CurrentToken   string
	IdempotencyKey string
}

// CreateAnonymous creates an anonymous identity with a generated display name
// and a session for it. A caller that already holds a valid session gets that
// session back.
func (o *Orchestrator) CreateAnonymous(ctx context.Context, currentToken string) (*identity.AuthResult, error) {
	current, err := o.currentSession(ctx, currentToken)
	if err != nil {
		return nil, err
	}
	if d := Decide(Request{Action: ActionAnonymous, Current: current}); d.Flow == FlowCurrentSession {
		res := current.Result()
		return &res, nil
	}

	now := o.timestamp()
	ident := &identity.Identity{
		ID:          uuid.NewString(),
		Kind:        identity.KindAnonymous,
		DisplayName: identity.GenerateDisplayName(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res, err := withRetry(ctx, o, func(ctx context.Context) (*identity.AuthResult, error) {
		if err := o.store.CreateIdentity(ctx, ident); err != nil && !errors.Is(err, storage.ErrDuplicate) {
			return nil, storage.Classify("authflow.CreateAnonymous", err)
		}
		return o.issueSession(ctx, "anonymous", ident)
	})
	if err != nil {
		return nil, err
	}

	o.metrics.AnonymousCreated()
	observability.FromContext(ctx).WithField("identity_id", ident.ID).Info("Anonymous identity created")
	return res, nil
}

// SignUp creates a permanent identity. With a valid anonymous session it
// links instead, carrying the anonymous data into the new identity.
func (o *Orchestrator) SignUp(ctx context.Context, in SignUpInput) (*identity.AuthResult, error) {
	const op = "authflow.SignUp"

	email := identity.NormalizeEmail(in.Email)
	hash, err := o.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	cred := &identity.Credential{Method: identity.MethodPassword, Email: email, SecretHash: hash}
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	current, err := o.currentSession(ctx, in.CurrentToken)
	if err != nil {
		return nil, err
	}
	d := Decide(Request{Action: ActionSignUp, Current: current})
	if d.Flow == FlowBeginLink {
		return o.implicitLink(ctx, linking.BeginRequest{
			SourceIdentityID: current.Identity.ID,
			IdempotencyKey:   in.IdempotencyKey,
			Credential:       cred,
			DisplayName:      strings.TrimSpace(in.DisplayName),
		})
	}

	return o.createPermanent(ctx, op, cred, in.DisplayName)
}

// SignIn verifies a password. With a valid anonymous session the anonymous
// data is merged into the signed-in identity.
func (o *Orchestrator) SignIn(ctx context.Context, in SignInInput) (*identity.AuthResult, error) {
	const op = "authflow.SignIn"

	email := identity.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, identity.NewError(identity.KindValidation, op, "email and password are required")
	}

	ident, err := withRetry(ctx, o, func(ctx context.Context) (*identity.Identity, error) {
		ident, err := o.store.GetIdentityByEmail(ctx, email)
		return ident, storage.Classify(op, err)
	})
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, credential.ErrInvalidCredentials
		}
		return nil, err
	}
	if ident.Credential == nil || ident.Credential.SecretHash == "" {
		return nil, credential.ErrInvalidCredentials
	}
	if err := o.hasher.Verify(ident.Credential.SecretHash, in.Password); err != nil {
		return nil, err
	}

	return o.signInAs(ctx, ident, in.CurrentToken, in.IdempotencyKey)
}

// RequestMagicLink issues a one-time sign-in link for email. It succeeds
// whether or not the email belongs to an identity.
func (o *Orchestrator) RequestMagicLink(ctx context.Context, email string) error {
	const op = "authflow.RequestMagicLink"

	email = identity.NormalizeEmail(email)
	cred := identity.Credential{Method: identity.MethodMagicLink, Email: email}
	if err := cred.Validate(); err != nil {
		return err
	}

	token, record, err := o.magic.Issue(email)
	if err != nil {
		return identity.Wrap(identity.KindInternal, op, err)
	}
	if _, err := withRetry(ctx, o, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, storage.Classify(op, o.store.CreateMagicLinkToken(ctx, record))
	}); err != nil {
		return err
	}

	if o.sender == nil {
		return identity.NewError(identity.KindInternal, op, "no magic link sender configured")
	}
	if err := o.sender.SendMagicLink(ctx, email, o.magic.Link(token)); err != nil {
		return identity.Wrap(identity.KindInternal, op, err)
	}
	return nil
}

// VerifyMagicLink consumes a magic link token. An unknown email gets a new
// permanent identity with a verified magic-link credential. Either way an
// anonymous caller is linked.
func (o *Orchestrator) VerifyMagicLink(ctx context.Context, token, currentToken, idempotencyKey string) (*identity.AuthResult, error) {
	const op = "authflow.VerifyMagicLink"

	if err := credential.ValidateToken(token); err != nil {
		return nil, err
	}

	record, err := withRetry(ctx, o, func(ctx context.Context) (*identity.MagicLinkToken, error) {
		rec, err := o.store.ConsumeMagicLinkToken(ctx, credential.HashToken(token), o.timestamp())
		return rec, storage.Classify(op, err)
	})
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, identity.NewError(identity.KindValidation, op, "magic link is invalid or expired")
		}
		return nil, err
	}

	ident, err := withRetry(ctx, o, func(ctx context.Context) (*identity.Identity, error) {
		ident, err := o.store.GetIdentityByEmail(ctx, record.Email)
		return ident, storage.Classify(op, err)
	})
	switch {
	case err == nil:
		return o.signInAs(ctx, ident, currentToken, idempotencyKey)
	case !errors.Is(err, identity.ErrNotFound):
		return nil, err
	}

	cred := &identity.Credential{Method: identity.MethodMagicLink, Email: record.Email, EmailVerified: true}
	current, err := o.currentSession(ctx, currentToken)
	if err != nil {
		return nil, err
	}
	if d := Decide(Request{Action: ActionSignUp, Current: current}); d.Flow == FlowBeginLink {
		return o.implicitLink(ctx, linking.BeginRequest{
			SourceIdentityID: current.Identity.ID,
			IdempotencyKey:   idempotencyKey,
			Credential:       cred,
		})
	}
	return o.createPermanent(ctx, op, cred, "")
}

// signInAs issues a session for a verified identity, merging an anonymous
// caller into it first
func (o *Orchestrator) signInAs(ctx context.Context, ident *identity.Identity, currentToken, idempotencyKey string) (*identity.AuthResult, error) {
	current, err := o.currentSession(ctx, currentToken)
	if err != nil {
		return nil, err
	}
	d := Decide(Request{Action: ActionSignIn, Current: current})
	if d.Flow == FlowBeginLink {
		return o.implicitLink(ctx, linking.BeginRequest{
			SourceIdentityID: current.Identity.ID,
			IdempotencyKey:   idempotencyKey,
			TargetIdentityID: ident.ID,
		})
	}

	return withRetry(ctx, o, func(ctx context.Context) (*identity.AuthResult, error) {
		return o.issueSession(ctx, "signin", ident)
	})
}

func (o *Orchestrator) createPermanent(ctx context.Context, op string, cred *identity.Credential, displayName string) (*identity.AuthResult, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = emailLocalPart(cred.Email)
	}

	now := o.timestamp()
	ident := &identity.Identity{
		ID:          uuid.NewString(),
		Kind:        identity.KindPermanent,
		Credential:  cred,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	return withRetry(ctx, o, func(ctx context.Context) (*identity.AuthResult, error) {
		if err := o.store.CreateIdentity(ctx, ident); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				// a retry after a lost response lands here with our own row
				if existing, gerr := o.store.GetIdentity(ctx, ident.ID); gerr == nil {
					return o.issueSession(ctx, "signup", existing)
				}
				return nil, identity.NewError(identity.KindConflict, op, "an identity with this email already exists")
			}
			return nil, storage.Classify(op, err)
		}
		return o.issueSession(ctx, "signup", ident)
	})
}

func emailLocalPart(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
