package storage

import (
	"errors"

	"github.com/platinummonkey/idlink/pkg/identity"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a write violates a unique constraint
	ErrDuplicate = errors.New("duplicate")
	// ErrUnavailable is returned when the backend cannot be reached
	ErrUnavailable = errors.New("store unavailable")
)

// Classify maps a storage error onto the identity error taxonomy
func Classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return identity.Wrap(identity.KindNotFound, op, err)
	case errors.Is(err, ErrDuplicate):
		return identity.Wrap(identity.KindConflict, op, err)
	case errors.Is(err, ErrUnavailable):
		return identity.Wrap(identity.KindStoreUnavailable, op, err)
	default:
		var e *identity.Error
		if errors.As(err, &e) {
			return err
		}
		return identity.Wrap(identity.KindInternal, op, err)
	}
}
