package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// setupSessionCacheTest creates a miniredis instance and a cache backed by it
func setupSessionCacheTest(t *testing.T) (*SessionCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	config := storage.Config{
		RedisURL:        "redis://" + mr.Addr(),
		RedisDB:         0,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
		CacheTTL:        map[string]time.Duration{"session": 10 * time.Minute},
	}

	client, err := NewRedisClient(config)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewSessionCache(client, config), mr
}

func permanentView() *identity.SessionView {
	now := time.Now().UTC()
	return &identity.SessionView{
		Identity: &identity.Identity{
			ID:          "perm-1",
			Kind:        identity.KindPermanent,
			DisplayName: "Alice",
			Credential:  &identity.Credential{Method: identity.MethodPassword, Email: "alice@example.com", SecretHash: "$2a$secret"},
		},
		Session: &identity.Session{ID: "sess-1", IdentityID: "perm-1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)},
	}
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(storage.Config{RedisURL: "invalid://url"})
	assert.Error(t, err)
}

func TestNewRedisClient_ConnectionFailure(t *testing.T) {
	_, err := NewRedisClient(storage.Config{RedisURL: "redis://localhost:1", RedisDB: -1})
	assert.Error(t, err)
}

func TestSessionCache_SetGet(t *testing.T) {
	c, mr := setupSessionCacheTest(t)
	ctx := context.Background()

	miss, err := c.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, c.Set(ctx, permanentView()))
	assert.True(t, mr.Exists("session:sess-1"))

	ttl := mr.TTL("session:sess-1")
	assert.True(t, ttl > 0 && ttl <= 10*time.Minute, "ttl %v", ttl)

	raw, err := mr.Get("session:sess-1")
	require.NoError(t, err)
	assert.NotContains(t, raw, "$2a$secret")

	hit, err := c.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, "perm-1", hit.Identity.ID)
	assert.Equal(t, identity.KindPermanent, hit.Identity.Kind)
	assert.Equal(t, "alice@example.com", hit.Identity.Credential.Email)

	require.NoError(t, c.Invalidate(ctx, "sess-1"))
	assert.False(t, mr.Exists("session:sess-1"))
}

func TestSessionCache_SkipsAnonymous(t *testing.T) {
	c, mr := setupSessionCacheTest(t)
	ctx := context.Background()

	view := permanentView()
	view.Identity = &identity.Identity{ID: "anon-1", Kind: identity.KindAnonymous}
	require.NoError(t, c.Set(ctx, view))
	assert.False(t, mr.Exists("session:sess-1"))
}

func TestSessionCache_TTLBoundedBySessionExpiry(t *testing.T) {
	c, mr := setupSessionCacheTest(t)
	ctx := context.Background()

	view := permanentView()
	view.Session.ExpiresAt = time.Now().Add(time.Minute)
	require.NoError(t, c.Set(ctx, view))
	assert.True(t, mr.TTL("session:sess-1") <= time.Minute)

	view.Session.ExpiresAt = time.Now().Add(-time.Minute)
	view.Session.ID = "sess-expired"
	require.NoError(t, c.Set(ctx, view))
	assert.False(t, mr.Exists("session:sess-expired"))
}

func TestSessionCache_CorruptEntry(t *testing.T) {
	c, mr := setupSessionCacheTest(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("session:bad", "{not json"))
	_, err := c.Get(ctx, "bad")
	assert.Error(t, err)
	assert.False(t, mr.Exists("session:bad"))
}

func TestSessionCache_InvalidKindIsMiss(t *testing.T) {
	c, mr := setupSessionCacheTest(t)
	ctx := context.Background()

	session := `"session":{"id":"s","identity_id":"i","expires_at":"2099-01-01T00:00:00Z"}`
	entries := map[string]string{
		"unknown": `{"identity":{"id":"i","kind":"robot"},` + session + `}`,
		"missing": `{"identity":{"id":"i"},` + session + `}`,
		"anon":    `{"identity":{"id":"i","kind":"anonymous"},` + session + `}`,
	}
	for id, data := range entries {
		t.Run(id, func(t *testing.T) {
			require.NoError(t, mr.Set("session:"+id, data))

			var view *identity.SessionView
			assert.NotPanics(t, func() { view, _ = c.Get(ctx, id) })
			assert.Nil(t, view)
			assert.False(t, mr.Exists("session:"+id))
		})
	}
}
