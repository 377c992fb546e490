package identity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_Validate(t *testing.T) {
	tests := []struct {
		name     string
		identity Identity
		wantKind ErrorKind
	}{
		{
			name:     "anonymous without credential",
			identity: Identity{ID: "a", Kind: KindAnonymous},
		},
		{
			name: "anonymous with credential",
			identity: Identity{ID: "a", Kind: KindAnonymous, Credential: &Credential{
				Method: MethodMagicLink, Email: "a@example.com",
			}},
			wantKind: KindValidation,
		},
		{
			name:     "permanent without credential",
			identity: Identity{ID: "p", Kind: KindPermanent},
			wantKind: KindValidation,
		},
		{
			name: "permanent with password credential",
			identity: Identity{ID: "p", Kind: KindPermanent, Credential: &Credential{
				Method: MethodPassword, Email: "p@example.com", SecretHash: "hash",
			}},
		},
		{
			name: "password credential without secret",
			identity: Identity{ID: "p", Kind: KindPermanent, Credential: &Credential{
				Method: MethodPassword, Email: "p@example.com",
			}},
			wantKind: KindValidation,
		},
		{
			name: "malformed email",
			identity: Identity{ID: "p", Kind: KindPermanent, Credential: &Credential{
				Method: MethodMagicLink, Email: "not-an-email",
			}},
			wantKind: KindValidation,
		},
		{
			name:     "unknown kind",
			identity: Identity{ID: "x", Kind: "robot"},
			wantKind: KindValidation,
		},
		{
			name:     "missing id",
			identity: Identity{Kind: KindAnonymous},
			wantKind: KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.identity.Validate()
			if tt.wantKind == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantKind, KindOf(err))
		})
	}
}

func TestIdentity_LeaseHeld(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	future := now.Add(time.Second)
	past := now.Add(-time.Second)

	assert.False(t, (&Identity{}).LeaseHeld(now))
	assert.False(t, (&Identity{LeaseOwner: "l1", LeaseExpiresAt: &past}).LeaseHeld(now))
	assert.False(t, (&Identity{LeaseOwner: "l1", LeaseExpiresAt: &now}).LeaseHeld(now))
	assert.True(t, (&Identity{LeaseOwner: "l1", LeaseExpiresAt: &future}).LeaseHeld(now))
}

func TestIdentity_IsAnonymousPanicsOnInvalidKind(t *testing.T) {
	assert.True(t, (&Identity{Kind: KindAnonymous}).IsAnonymous())
	assert.False(t, (&Identity{Kind: KindPermanent}).IsAnonymous())
	assert.Panics(t, func() { (&Identity{Kind: "guest"}).IsAnonymous() })
}

func TestLinkState(t *testing.T) {
	for _, s := range []LinkState{LinkCommitted, LinkFailed, LinkConflict} {
		assert.True(t, s.Terminal(), s)
		assert.False(t, s.InFlight(), s)
	}
	for _, s := range []LinkState{LinkPending, LinkMigrating} {
		assert.False(t, s.Terminal(), s)
		assert.True(t, s.InFlight(), s)
	}
}

func TestKind_UnmarshalRejectsUnknown(t *testing.T) {
	var ident Identity
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","kind":"permanent"}`), &ident))
	assert.Equal(t, KindPermanent, ident.Kind)

	err := json.Unmarshal([]byte(`{"id":"a","kind":"robot"}`), &ident)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown identity kind "robot"`)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("anonymous")
	require.NoError(t, err)
	assert.Equal(t, KindAnonymous, k)

	_, err = ParseKind("guest")
	assert.Error(t, err)
}

func TestParseRetentionMode(t *testing.T) {
	tests := map[string]RetentionMode{
		"":          RetainDelete,
		"delete":    RetainDelete,
		" Archive ": RetainArchive,
	}
	for in, want := range tests {
		got, err := ParseRetentionMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseRetentionMode("keep")
	assert.Error(t, err)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
}

func TestProfileOf(t *testing.T) {
	created := time.Now().UTC()
	p := ProfileOf(&Identity{
		ID:          "p1",
		Kind:        KindPermanent,
		DisplayName: "Inspired Artist",
		LinkedFrom:  "a1",
		CreatedAt:   created,
		Credential:  &Credential{Method: MethodPassword, Email: "p@example.com", SecretHash: "secret", EmailVerified: true},
	})

	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, KindPermanent, p.Kind)
	assert.Equal(t, "p@example.com", p.Email)
	assert.True(t, p.EmailVerified)
	assert.Equal(t, "a1", p.LinkedFrom)

	anon := ProfileOf(&Identity{ID: "a1", Kind: KindAnonymous})
	assert.Empty(t, anon.Email)
}
