package authflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/platinummonkey/idlink/pkg/credential"
	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/linking"
	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/retry"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// Action is what the caller asked for
type Action string

const (
	ActionAnonymous  Action = "anonymous"
	ActionSignIn     Action = "signin"
	ActionSignUp     Action = "signup"
	ActionBeginLink  Action = "link.begin"
	ActionCommitLink Action = "link.commit"
)

// Flow is what the orchestrator will do about it
type Flow string

const (
	FlowCreateAnonymous Flow = "create_anonymous"
	FlowCurrentSession  Flow = "current_session"
	FlowSignIn          Flow = "sign_in"
	FlowSignUp          Flow = "sign_up"
	FlowBeginLink       Flow = "begin_link"
	FlowCommitLink      Flow = "commit_link"
	FlowUnknown         Flow = "unknown"
)

// Request is the input to Decide
type Request struct {
	Action Action
	// Current is the caller's resolved session, nil when none is valid
	Current *identity.SessionView
}

// Decision is the routing outcome
type Decision struct {
	Flow Flow
	// Implicit marks a sign-in or sign-up rerouted to a link
	Implicit bool
	// Merge links into an existing permanent identity
	Merge bool
}

// Decide routes a request
func Decide(r Request) Decision {
	anonymous := r.Current != nil && r.Current.Identity != nil && r.Current.Identity.IsAnonymous()

	switch r.Action {
	case ActionAnonymous:
		if r.Current != nil && r.Current.Identity != nil {
			return Decision{Flow: FlowCurrentSession}
		}
		return Decision{Flow: FlowCreateAnonymous}
	case ActionSignUp:
		if anonymous {
			return Decision{Flow: FlowBeginLink, Implicit: true}
		}
		return Decision{Flow: FlowSignUp}
	case ActionSignIn:
		if anonymous {
			return Decision{Flow: FlowBeginLink, Implicit: true, Merge: true}
		}
		return Decision{Flow: FlowSignIn}
	case ActionBeginLink:
		return Decision{Flow: FlowBeginLink}
	case ActionCommitLink:
		return Decision{Flow: FlowCommitLink}
	default:
		return Decision{Flow: FlowUnknown}
	}
}

// SessionCache caches resolved sessions
type SessionCache interface {
	Get(ctx context.Context, sessionID string) (*identity.SessionView, error)
	Set(ctx context.Context, view *identity.SessionView) error
	Invalidate(ctx context.Context, sessionID string) error
}

// Options configures an Orchestrator
type Options struct {
	Hasher credential.Hasher
	Tokens *identity.TokenIssuer

	MagicLinks *credential.MagicLinks
	Sender     credential.Sender

	// Cache is optional
	Cache   SessionCache
	Retry   *retry.Policy
	Metrics *observability.Recorder

	// UpdateAge is how old a session must be before a resolve extends it
	UpdateAge time.Duration

	Now func() time.Time
}

// Orchestrator runs every identity flow
type Orchestrator struct {
	store   storage.Store
	coord   *linking.Coordinator
	hasher  credential.Hasher
	tokens  *identity.TokenIssuer
	magic   *credential.MagicLinks
	sender  credential.Sender
	cache   SessionCache
	metrics *observability.Recorder
	now     func() time.Time

	mu        sync.RWMutex
	retry     *retry.Policy
	updateAge time.Duration
}

// New creates an orchestrator
func New(store storage.Store, coord *linking.Coordinator, opts Options) (*Orchestrator, error) {
	if store == nil || coord == nil {
		return nil, errors.New("authflow: store and coordinator are required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("authflow: token issuer is required")
	}
	if opts.Hasher == nil {
		opts.Hasher = credential.NewBcryptHasher(0)
	}
	if opts.MagicLinks == nil {
		opts.MagicLinks = credential.NewMagicLinks("", 0)
	}
	if opts.Retry == nil {
		opts.Retry = retry.NewPolicy(retry.DefaultConfig())
	}
	if opts.UpdateAge <= 0 {
		opts.UpdateAge = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Orchestrator{
		store:     store,
		coord:     coord,
		hasher:    opts.Hasher,
		tokens:    opts.Tokens,
		magic:     opts.MagicLinks,
		sender:    opts.Sender,
		cache:     opts.Cache,
		metrics:   opts.Metrics,
		now:       opts.Now,
		retry:     opts.Retry,
		updateAge: opts.UpdateAge,
	}, nil
}

// UpdatePolicy swaps the retry policy and session update age
func (o *Orchestrator) UpdatePolicy(p *retry.Policy, updateAge time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p != nil {
		o.retry = p
	}
	if updateAge > 0 {
		o.updateAge = updateAge
	}
}

func (o *Orchestrator) retryPolicy() *retry.Policy {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.retry
}

func (o *Orchestrator) sessionUpdateAge() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.updateAge
}

func (o *Orchestrator) timestamp() time.Time {
	return o.now().UTC().Truncate(time.Microsecond)
}

// withRetry runs fn under the bounded retry policy
func withRetry[T any](ctx context.Context, o *Orchestrator, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, o.retryPolicy(), fn)
}
