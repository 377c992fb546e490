package storage

import (
	"context"
	"time"

	"github.com/platinummonkey/idlink/pkg/identity"
)

// IdentityStore persists identities and their migration lease
type IdentityStore interface {
	CreateIdentity(ctx context.Context, ident *identity.Identity) error
	GetIdentity(ctx context.Context, id string) (*identity.Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (*identity.Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
	// ArchiveIdentity marks an anonymous identity consumed by a link and drops its lease
	ArchiveIdentity(ctx context.Context, id, into string, at time.Time) error

	// AcquireLease sets the lease on an unconsumed anonymous identity when no
	// live lease held by someone else exists. It reports whether the lease
	// is now held by owner.
	AcquireLease(ctx context.Context, identityID, owner string, now, until time.Time) (bool, error)
	ReleaseLease(ctx context.Context, identityID, owner string) error
}

// SessionStore persists sessions and link redirects
type SessionStore interface {
	CreateSession(ctx context.Context, sess *identity.Session) error
	GetSession(ctx context.Context, id string) (*identity.Session, error)
	ExtendSession(ctx context.Context, id string, expiresAt time.Time) error
	DeleteSession(ctx context.Context, id string) error
	ListSessionIDs(ctx context.Context, identityID string) ([]string, error)
	DeleteSessionsForIdentity(ctx context.Context, identityID string) (int64, error)

	CreateRedirect(ctx context.Context, redirect *identity.SessionRedirect) error
	GetRedirect(ctx context.Context, oldSessionID string) (*identity.SessionRedirect, error)
}

// LinkRequestStore persists link requests
type LinkRequestStore interface {
	CreateLinkRequest(ctx context.Context, req *identity.LinkRequest) error
	GetLinkRequest(ctx context.Context, id string) (*identity.LinkRequest, error)
	GetLinkRequestByKey(ctx context.Context, idempotencyKey string) (*identity.LinkRequest, error)
	GetInflightLinkRequest(ctx context.Context, sourceIdentityID string) (*identity.LinkRequest, error)

	// TransitionLinkRequest moves a request to state `to` if it is currently
	// in one of `from`, reporting whether a row changed
	TransitionLinkRequest(ctx context.Context, id string, from []identity.LinkState, to identity.LinkState, reason string, at time.Time) (bool, error)
	// CompleteLinkRequest marks a migrating request committed with its results
	CompleteLinkRequest(ctx context.Context, id, resultIdentityID, resultSessionID string, at time.Time) error
}

// ResourceStore persists owned resources
type ResourceStore interface {
	CreateResource(ctx context.Context, res *identity.OwnedResource) error
	ListResources(ctx context.Context, ownerID string) ([]*identity.OwnedResource, error)
	CountResources(ctx context.Context, ownerID string) (int, error)
	ReassignResources(ctx context.Context, fromOwnerID, toOwnerID string) (int64, error)
}

// MagicLinkStore persists one-time sign-in tokens
type MagicLinkStore interface {
	CreateMagicLinkToken(ctx context.Context, tok *identity.MagicLinkToken) error
	// ConsumeMagicLinkToken marks an unexpired, unused token consumed and returns it
	ConsumeMagicLinkToken(ctx context.Context, tokenHash string, now time.Time) (*identity.MagicLinkToken, error)
}

// Ops is everything that can run either directly or inside a transaction
type Ops interface {
	IdentityStore
	SessionStore
	LinkRequestStore
	ResourceStore
	MagicLinkStore
}

// Tx is a multi-row transaction
type Tx interface {
	Ops
	Commit() error
	Rollback() error
}

// Maintenance holds the janitor's bulk cleanup operations
type Maintenance interface {
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	ListStaleLinkRequests(ctx context.Context, updatedBefore time.Time) ([]*identity.LinkRequest, error)
	DeleteRedirectsBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteMagicLinkTokensBefore(ctx context.Context, before time.Time) (int64, error)
}

// Store is the identity store
type Store interface {
	Ops
	Maintenance

	BeginTx(ctx context.Context) (Tx, error)
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// Config for the storage backends
type Config struct {
	Driver string // "sqlite" or "postgres"
	DSN    string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled bool
	CacheTTL     map[string]time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Driver:          "sqlite",
		DSN:             "file:idlink.db?_busy_timeout=5000",
		MaxOpenConns:    20,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    10 * time.Second,
		RedisDB:         0,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
		CacheEnabled:    true,
		CacheTTL: map[string]time.Duration{
			"session": 5 * time.Minute,
		},
	}
}
