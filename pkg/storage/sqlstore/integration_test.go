//go:build integration

package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// setupPostgresStore starts a disposable PostgreSQL container and returns a migrated store
func setupPostgresStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker not available, skipping integration tests")
	}
	provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("idlink_test"),
		postgres.WithUsername("idlink"),
		postgres.WithPassword("idlink_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := storage.DefaultConfig()
	cfg.Driver = "postgres"
	cfg.DSN = dsn
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgres_LeaseAndUniqueness(t *testing.T) {
	ctx := context.Background()
	s := setupPostgresStore(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	anon := &identity.Identity{ID: uuid.NewString(), Kind: identity.KindAnonymous, DisplayName: "Talented Creator", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateIdentity(ctx, anon))

	ok, err := s.AcquireLease(ctx, anon.ID, "link-1", now, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLease(ctx, anon.ID, "link-2", now, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	perm := &identity.Identity{
		ID:         uuid.NewString(),
		Kind:       identity.KindPermanent,
		Credential: &identity.Credential{Method: identity.MethodMagicLink, Email: "pg@example.com"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, s.CreateIdentity(ctx, perm))

	dup := *perm
	dup.ID = uuid.NewString()
	err = s.CreateIdentity(ctx, &dup)
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	got, err := s.GetIdentity(ctx, anon.ID)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(now))
}
