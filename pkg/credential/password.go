package credential

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/idlink/pkg/identity"
)

const (
	// MinPasswordLength is the shortest accepted password
	MinPasswordLength = 8
	// maxPasswordBytes is bcrypt's input limit
	maxPasswordBytes = 72
)

// Hasher hashes and verifies password secrets
type Hasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) error
}

// BcryptHasher hashes passwords with bcrypt
type BcryptHasher struct {
	cost int
}

var _ Hasher = (*BcryptHasher)(nil)

// NewBcryptHasher creates a hasher. A cost outside bcrypt's range uses the default.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash validates the password and returns its bcrypt hash
func (h *BcryptHasher) Hash(password string) (string, error) {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return "", identity.NewError(identity.KindValidation, "credential.Hash", "password must be at least 8 characters")
	}
	if len(password) > maxPasswordBytes {
		return "", identity.NewError(identity.KindValidation, "credential.Hash", "password must be at most 72 bytes")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", identity.Wrap(identity.KindInternal, "credential.Hash", err)
	}
	return string(hashed), nil
}

// Verify checks a password against a stored hash.
// A mismatch is reported as a validation error that does not reveal which part was wrong.
func (h *BcryptHasher) Verify(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword), errors.Is(err, bcrypt.ErrHashTooShort):
		return ErrInvalidCredentials
	default:
		return identity.Wrap(identity.KindInternal, "credential.Verify", err)
	}
}

// ErrInvalidCredentials is returned for any failed sign-in check
var ErrInvalidCredentials = identity.NewError(identity.KindValidation, "credential.Verify", "invalid email or password")
