package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idlink/pkg/identity"
)

func noSleep(p *Policy) *Policy {
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestNewPolicy_Defaults(t *testing.T) {
	p := NewPolicy(Config{})
	assert.Equal(t, 3, p.MaxAttempts())
	assert.Equal(t, 50*time.Millisecond, p.NextDelay(0))
}

func TestPolicy_NextDelay(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffMultiplier: 2})

	tests := []struct {
		attempts int
		expected time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, p.NextDelay(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestPolicy_ShouldRetry(t *testing.T) {
	p := NewPolicy(DefaultConfig())

	assert.False(t, p.ShouldRetry(1, nil))
	assert.True(t, p.ShouldRetry(1, identity.NewError(identity.KindStoreUnavailable, "op", "down")))
	assert.True(t, p.ShouldRetry(2, identity.NewError(identity.KindLeaseContention, "op", "busy")))
	assert.False(t, p.ShouldRetry(3, identity.NewError(identity.KindStoreUnavailable, "op", "down")))
	assert.False(t, p.ShouldRetry(1, identity.NewError(identity.KindConflict, "op", "taken")))
	assert.False(t, p.ShouldRetry(1, errors.New("plain")))
}

func TestDo_SucceedsAfterTransient(t *testing.T) {
	p := noSleep(NewPolicy(DefaultConfig()))
	calls := 0

	got, err := Do(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", identity.NewError(identity.KindStoreUnavailable, "op", "down")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAndReportsAttempts(t *testing.T) {
	p := noSleep(NewPolicy(DefaultConfig()))
	calls := 0
	orig := identity.NewError(identity.KindLeaseContention, "op", "busy")

	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, orig
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var e *identity.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 3, e.Attempts)
	assert.Equal(t, identity.KindLeaseContention, e.Kind)
	assert.Zero(t, orig.Attempts)
}

func TestDo_PermanentFailureNotRetried(t *testing.T) {
	p := noSleep(NewPolicy(DefaultConfig()))
	calls := 0

	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, identity.NewError(identity.KindConflict, "op", "taken")
	})
	assert.ErrorIs(t, err, identity.ErrConflict)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	p := NewPolicy(Config{MaxAttempts: 5, InitialDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0

	_, err := Do(ctx, p, func(context.Context) (int, error) {
		calls++
		return 0, identity.NewError(identity.KindStoreUnavailable, "op", "down")
	})
	assert.ErrorIs(t, err, identity.ErrStoreUnavailable)
	assert.Equal(t, 1, calls)
}
