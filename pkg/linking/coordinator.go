package linking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/storage"
)

const tracerName = "github.com/platinummonkey/idlink/pkg/linking"

// Policy holds the tunables that may change at runtime
type Policy struct {
	Retention  identity.RetentionMode
	LeaseTTL   time.Duration
	SessionTTL time.Duration
}

// DefaultPolicy returns the default linking policy
func DefaultPolicy() Policy {
	return Policy{
		Retention:  identity.RetainDelete,
		LeaseTTL:   30 * time.Second,
		SessionTTL: 30 * 24 * time.Hour,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Retention == "" {
		p.Retention = d.Retention
	}
	if p.LeaseTTL <= 0 {
		p.LeaseTTL = d.LeaseTTL
	}
	if p.SessionTTL <= 0 {
		p.SessionTTL = d.SessionTTL
	}
	return p
}

// Options configures a Coordinator
type Options struct {
	Policy   Policy
	Migrator Migrator
	Tokens   *identity.TokenIssuer
	Metrics  *observability.Recorder

	// ReplayCacheSize bounds the committed-result cache
	ReplayCacheSize int
	ReplayCacheTTL  time.Duration

	Now func() time.Time
}

// BeginRequest starts a link
type BeginRequest struct {
	SourceIdentityID string
	IdempotencyKey   string
	// Credential for the new permanent identity. Ignored for merges.
	Credential *identity.Credential
	// TargetIdentityID merges into an existing permanent identity
	TargetIdentityID string
	DisplayName      string
}

// CommitResult is the outcome of a committed link
type CommitResult struct {
	Identity *identity.Identity
	Session  *identity.Session
	Token    string
	Request  *identity.LinkRequest
	Migrated int64
	// Replayed is true when the result came from an earlier commit
	Replayed bool
}

// Coordinator runs link requests against the identity store
type Coordinator struct {
	store    storage.Store
	migrator Migrator
	tokens   *identity.TokenIssuer
	metrics  *observability.Recorder
	tracer   trace.Tracer
	now      func() time.Time
	results  *expirable.LRU[string, *CommitResult]

	mu     sync.RWMutex
	policy Policy
}

// New creates a coordinator
func New(store storage.Store, opts Options) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("linking: store is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("linking: token issuer is required")
	}
	if opts.Migrator == nil {
		opts.Migrator = ResourceMigrator{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReplayCacheSize <= 0 {
		opts.ReplayCacheSize = 1024
	}
	if opts.ReplayCacheTTL <= 0 {
		opts.ReplayCacheTTL = 10 * time.Minute
	}

	return &Coordinator{
		store:    store,
		migrator: opts.Migrator,
		tokens:   opts.Tokens,
		metrics:  opts.Metrics,
		tracer:   observability.Tracer(tracerName),
		now:      opts.Now,
		results:  expirable.NewLRU[string, *CommitResult](opts.ReplayCacheSize, nil, opts.ReplayCacheTTL),
		policy:   opts.Policy.withDefaults(),
	}, nil
}

// Policy returns the active policy
func (c *Coordinator) Policy() Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

// UpdatePolicy swaps the policy. In-flight commits keep the policy they started with.
func (c *Coordinator) UpdatePolicy(p Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = p.withDefaults()
}

// GetLink loads a link request
func (c *Coordinator) GetLink(ctx context.Context, id string) (*identity.LinkRequest, error) {
	if id == "" {
		return nil, linkError(identity.KindValidation, "linking.GetLink", "link request id is required", nil)
	}
	req, err := c.store.GetLinkRequest(ctx, id)
	if err != nil {
		return nil, storeError("linking.GetLink", err)
	}
	return req, nil
}

// timestamp returns the current time at the precision every store keeps
func (c *Coordinator) timestamp() time.Time {
	return c.now().UTC().Truncate(time.Microsecond)
}

func (c *Coordinator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(identity.KindOf(err)))
	}
	span.End()
}

// linkError builds an error for the link layer. The anonymous data is intact
// for every error the coordinator returns.
func linkError(kind identity.ErrorKind, op, msg string, err error) *identity.Error {
	return &identity.Error{Kind: kind, Op: op, Message: msg, Err: err, DataIntact: true}
}

// storeError classifies a storage failure for the link layer
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	classified := storage.Classify(op, err)
	var e *identity.Error
	if errors.As(classified, &e) {
		cp := *e
		cp.DataIntact = true
		return &cp
	}
	return classified
}

// outcome names a result for metrics
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(identity.KindOf(err))
}

// rollback aborts tx, logging rollback failures
func rollback(ctx context.Context, tx storage.Tx) {
	if err := tx.Rollback(); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Link transaction rollback failed")
	}
}

func stateError(op string, req *identity.LinkRequest) error {
	switch req.State {
	case identity.LinkFailed:
		return linkError(identity.KindMigrationFailure, op,
			fmt.Sprintf("link request %s failed: %s", req.ID, req.FailureReason), nil)
	case identity.LinkConflict:
		return linkError(identity.KindConflict, op,
			fmt.Sprintf("link request %s conflicted: %s", req.ID, req.FailureReason), nil)
	default:
		return linkError(identity.KindInternal, op, fmt.Sprintf("unexpected link state %q", req.State), nil)
	}
}
