package linking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/storage"
	"github.com/platinummonkey/idlink/pkg/storage/sqlstore"
)

var testNow = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	coord  *Coordinator
	store  *sqlstore.Store
	clock  *fakeClock
	tokens *identity.TokenIssuer
}

func setup(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()
	store, err := sqlstore.NewInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tokens, err := identity.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	clock := &fakeClock{now: testNow}
	opts := Options{Tokens: tokens, Now: clock.Now}
	for _, m := range mutate {
		m(&opts)
	}

	coord, err := New(store, opts)
	require.NoError(t, err)
	return &testEnv{coord: coord, store: store, clock: clock, tokens: tokens}
}

// seedAnonymous creates an anonymous identity owning resources and sessions
func (e *testEnv) seedAnonymous(t *testing.T, resources, sessions int) (*identity.Identity, []string) {
	t.Helper()
	ctx := context.Background()
	now := e.clock.Now()

	anon := &identity.Identity{
		ID:          uuid.NewString(),
		Kind:        identity.KindAnonymous,
		DisplayName: "Creative Artist",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, e.store.CreateIdentity(ctx, anon))

	for i := 0; i < resources; i++ {
		require.NoError(t, e.store.CreateResource(ctx, &identity.OwnedResource{
			ID:        uuid.NewString(),
			OwnerID:   anon.ID,
			Kind:      "moodboard",
			Title:     fmt.Sprintf("board %d", i),
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	var sessionIDs []string
	for i := 0; i < sessions; i++ {
		sess := &identity.Session{
			ID:          uuid.NewString(),
			IdentityID:  anon.ID,
			IssuedAt:    now,
			ExpiresAt:   now.Add(24 * time.Hour),
			Refreshable: true,
		}
		require.NoError(t, e.store.CreateSession(ctx, sess))
		sessionIDs = append(sessionIDs, sess.ID)
	}
	return anon, sessionIDs
}

func (e *testEnv) seedPermanent(t *testing.T, email string) *identity.Identity {
	t.Helper()
	now := e.clock.Now()
	perm := &identity.Identity{
		ID:          uuid.NewString(),
		Kind:        identity.KindPermanent,
		DisplayName: "Alice",
		Credential:  &identity.Credential{Method: identity.MethodPassword, Email: email, SecretHash: "$2a$hash"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, e.store.CreateIdentity(context.Background(), perm))
	return perm
}

func passwordCredential(email string) *identity.Credential {
	return &identity.Credential{Method: identity.MethodPassword, Email: email, SecretHash: "$2a$10$hash"}
}

func (e *testEnv) begin(t *testing.T, sourceID, email string) *identity.LinkRequest {
	t.Helper()
	req, err := e.coord.BeginLink(context.Background(), BeginRequest{
		SourceIdentityID: sourceID,
		IdempotencyKey:   uuid.NewString(),
		Credential:       passwordCredential(email),
	})
	require.NoError(t, err)
	return req
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)

	store, err := sqlstore.NewInMemory(context.Background())
	require.NoError(t, err)
	defer store.Close()
	_, err = New(store, Options{})
	assert.Error(t, err)
}

func TestPolicy_Defaults(t *testing.T) {
	env := setup(t)
	assert.Equal(t, DefaultPolicy(), env.coord.Policy())

	env.coord.UpdatePolicy(Policy{Retention: identity.RetainArchive})
	p := env.coord.Policy()
	assert.Equal(t, identity.RetainArchive, p.Retention)
	assert.Equal(t, 30*time.Second, p.LeaseTTL)
	assert.Equal(t, 30*24*time.Hour, p.SessionTTL)
}

func TestBeginLink_CreatesPendingRequestAndLease(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	anon, _ := env.seedAnonymous(t, 1, 1)

	req, err := env.coord.BeginLink(ctx, BeginRequest{
		SourceIdentityID: anon.ID,
		IdempotencyKey:   "key-1",
		Credential:       passwordCredential("  Bob@Example.com "),
	})
	require.NoError(t, err)
	assert.Equal(t, identity.LinkPending, req.State)
	assert.Equal(t, "bob@example.com", req.TargetCredential.Email)

	stored, err := env.store.GetLinkRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.LinkPending, stored.State)
	assert.Equal(t, "key-1", stored.IdempotencyKey)

	src, err := env.store.GetIdentity(ctx, anon.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, src.LeaseOwner)
	require.NotNil(t, src.LeaseExpiresAt)
	assert.True(t, src.LeaseExpiresAt.Equal(testNow.Add(30*time.Second)))
}

func TestBeginLink_IdempotencyKey(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	anon, _ := env.seedAnonymous(t, 0, 0)

	in := BeginRequest{SourceIdentityID: anon.ID, IdempotencyKey: "same-key", Credential: passwordCredential("bob@example.com")}
	first, err := env.coord.BeginLink(ctx, in)
	require.NoError(t, err)

	env.clock.Advance(5 * time.Second)
	second, err := env.coord.BeginLink(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.State, second.State)

	other, _ := env.seedAnonymous(t, 0, 0)
	_, err = env.coord.BeginLink(ctx, BeginRequest{SourceIdentityID: other.ID, IdempotencyKey: "same-key", Credential: passwordCredential("carol@example.com")})
	assert.ErrorIs(t, err, identity.ErrValidation)
}

func TestBeginLink_ConflictWhileLeaseHeldDoesNotWrite(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	anon, _ := env.seedAnonymous(t, 0, 0)

	first := env.begin(t, anon.ID, "bob@example.com")
	before, err := env.store.GetIdentity(ctx, anon.ID)
	require.NoError(t, err)

	env.clock.Advance(time.Second)
	_, err = env.coord.BeginLink(ctx, BeginRequest{
		SourceIdentityID: anon.ID,
		IdempotencyKey:   "another-key",
		Credential:       passwordCredential("bob2@example.com"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrConflict)
	assert.True(t, identity.DataIntact(err))

	after, err := env.store.GetIdentity(ctx, anon.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, after.LeaseOwner)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))

	_, err = env.store.GetLinkRequestByKey(ctx, "another-key")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBeginLink_ConcurrentCallsSerialize(t *testing.T) {
	env := setup(t)
	anon, _ := env.seedAnonymous(t, 2, 1)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded []*identity.LinkRequest
		conflicts int
		others    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := env.coord.BeginLink(context.Background(), BeginRequest{
				SourceIdentityID: anon.ID,
				IdempotencyKey:   fmt.Sprintf("concurrent-%d", i),
				Credential:       passwordCredential(fmt.Sprintf("user%d@example.com", i)),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded = append(succeeded, req)
			case errors.Is(err, identity.ErrConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, others)
	require.Len(t, succeeded, 1)
	assert.Equal(t, identity.LinkPending, succeeded[0].State)
	assert.Equal(t, callers-1, conflicts)

	inflight, err := env.store.GetInflightLinkRequest(context.Background(), anon.ID)
	require.NoError(t, err)
	assert.Equal(t, succeeded[0].ID, inflight.ID)
}

func TestBeginLink_Rejections(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	anon, _ := env.seedAnonymous(t, 0, 0)
	perm := env.seedPermanent(t, "taken@example.com")

	tests := []struct {
		name string
		in   BeginRequest
		kind identity.ErrorKind
	}{
		{"missing source", BeginRequest{IdempotencyKey: "k", Credential: passwordCredential("a@example.com")}, identity.KindValidation},
		{"missing key", BeginRequest{SourceIdentityID: anon.ID, Credential: passwordCredential("a@example.com")}, identity.KindValidation},
		{"missing credential", BeginRequest{SourceIdentityID: anon.ID, IdempotencyKey: "k"}, identity.KindValidation},
		{"bad email", BeginRequest{SourceIdentityID: anon.ID, IdempotencyKey: "k", Credential: passwordCredential("not-an-email")}, identity.KindValidation},
		{"self merge", BeginRequest{SourceIdentityID: anon.ID, IdempotencyKey: "k", TargetIdentityID: anon.ID}, identity.KindValidation},
		{"unknown source", BeginRequest{SourceIdentityID: "nope", IdempotencyKey: "k", Credential: passwordCredential("a@example.com")}, identity.KindNotFound},
		{"permanent source", BeginRequest{SourceIdentityID: perm.ID, IdempotencyKey: "k", Credential: passwordCredential("a@example.com")}, identity.KindConflict},
		{"credential taken", BeginRequest{SourceIdentityID: anon.ID, IdempotencyKey: "k", Credential: passwordCredential("TAKEN@example.com")}, identity.KindConflict},
		{"unknown merge target", BeginRequest{SourceIdentityID: anon.ID, IdempotencyKey: "k", TargetIdentityID: anon.ID + "x"}, identity.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.coord.BeginLink(ctx, tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.kind, identity.KindOf(err))
			assert.True(t, identity.DataIntact(err))
		})
	}

	src, err := env.store.GetIdentity(ctx, anon.ID)
	require.NoError(t, err)
	assert.Empty(t, src.LeaseOwner)
}

func TestGetLink(t *testing.T) {
	env := setup(t)
	anon, _ := env.seedAnonymous(t, 0, 0)
	req := env.begin(t, anon.ID, "bob@example.com")

	got, err := env.coord.GetLink(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)

	_, err = env.coord.GetLink(context.Background(), "missing")
	assert.ErrorIs(t, err, identity.ErrNotFound)
	_, err = env.coord.GetLink(context.Background(), "")
	assert.ErrorIs(t, err, identity.ErrValidation)
}
