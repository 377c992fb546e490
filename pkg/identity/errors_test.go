package identity

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"message only", NewError(KindConflict, "linking.BeginLink", "link already in flight"), "linking.BeginLink: conflict: link already in flight"},
		{"cause only", Wrap(KindStoreUnavailable, "store.Get", cause), "store.Get: store_unavailable: connection refused"},
		{"message and cause", &Error{Kind: KindMigrationFailure, Op: "commit", Message: "rolled back", Err: cause}, "commit: migration_failure: rolled back: connection refused"},
		{"no op", &Error{Kind: KindValidation, Message: "bad"}, "validation: bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_IsAndKindOf(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("outer: %w", Wrap(KindConflict, "op", cause))

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, KindInternal, KindOf(cause))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(KindLeaseContention, "op", "held")))
	assert.True(t, IsRetryable(Wrap(KindStoreUnavailable, "op", errors.New("down"))))
	assert.False(t, IsRetryable(NewError(KindConflict, "op", "taken")))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestDataIntact(t *testing.T) {
	err := &Error{Kind: KindMigrationFailure, DataIntact: true}
	assert.True(t, DataIntact(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, DataIntact(errors.New("plain")))
}
