package identity

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Kind is the tagged variant of an identity
type Kind string

const (
	KindAnonymous Kind = "anonymous"
	KindPermanent Kind = "permanent"
)

// ParseKind converts a stored kind string into a Kind
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindAnonymous, KindPermanent:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown identity kind %q", s)
	}
}

// UnmarshalText rejects unknown kinds so a decoded Identity never carries
// a kind that IsAnonymous cannot classify
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Method identifies how a permanent identity proves ownership of its email
type Method string

const (
	MethodPassword  Method = "password"
	MethodMagicLink Method = "magic_link"
)

// Credential binds an email to a permanent identity
type Credential struct {
	Method        Method `json:"method"`
	Email         string `json:"email"`
	SecretHash    string `json:"-"`
	EmailVerified bool   `json:"email_verified"`
}

// NormalizeEmail lower-cases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate checks the credential shape. It does not check ownership.
func (c *Credential) Validate() error {
	if c == nil {
		return NewError(KindValidation, "credential.Validate", "credential is required")
	}
	if c.Email == "" {
		return NewError(KindValidation, "credential.Validate", "email is required")
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return Wrap(KindValidation, "credential.Validate", err)
	}
	switch c.Method {
	case MethodPassword:
		if c.SecretHash == "" {
			return NewError(KindValidation, "credential.Validate", "password credential requires a secret")
		}
	case MethodMagicLink:
	default:
		return NewError(KindValidation, "credential.Validate", fmt.Sprintf("unknown credential method %q", c.Method))
	}
	return nil
}

// Identity is an account, anonymous or permanent
type Identity struct {
	ID          string      `json:"id"`
	Kind        Kind        `json:"kind"`
	Credential  *Credential `json:"credential,omitempty"`
	DisplayName string      `json:"display_name"`
	LinkedFrom  string      `json:"linked_from,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`

	// Lease held by the linking coordinator while migrating this identity
	LeaseOwner     string     `json:"-"`
	LeaseExpiresAt *time.Time `json:"-"`

	// Set when the identity was archived after a link commit
	ConsumedAt   *time.Time `json:"consumed_at,omitempty"`
	ConsumedInto string     `json:"consumed_into,omitempty"`
}

// IsAnonymous reports whether the identity has no credential
func (i *Identity) IsAnonymous() bool {
	switch i.Kind {
	case KindAnonymous:
		return true
	case KindPermanent:
		return false
	default:
		panic(fmt.Sprintf("identity %s has invalid kind %q", i.ID, i.Kind))
	}
}

// Consumed reports whether the identity was archived by a link commit
func (i *Identity) Consumed() bool {
	return i.ConsumedAt != nil
}

// LeaseHeld reports whether a live lease exists at now
func (i *Identity) LeaseHeld(now time.Time) bool {
	return i.LeaseOwner != "" && i.LeaseExpiresAt != nil && i.LeaseExpiresAt.After(now)
}

// Validate checks the kind/credential pairing
func (i *Identity) Validate() error {
	if i.ID == "" {
		return NewError(KindValidation, "identity.Validate", "id is required")
	}
	switch i.Kind {
	case KindAnonymous:
		if i.Credential != nil {
			return NewError(KindValidation, "identity.Validate", "anonymous identity cannot carry a credential")
		}
	case KindPermanent:
		if err := i.Credential.Validate(); err != nil {
			return err
		}
	default:
		return NewError(KindValidation, "identity.Validate", fmt.Sprintf("unknown identity kind %q", i.Kind))
	}
	return nil
}

// Session is an authenticated session owned by exactly one identity
type Session struct {
	ID          string    `json:"id"`
	IdentityID  string    `json:"identity_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Refreshable bool      `json:"refreshable"`
}

// Expired reports whether the session is past its expiry at now
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// SessionRedirect re-points a session replaced by a link commit
type SessionRedirect struct {
	OldSessionID string    `json:"old_session_id"`
	NewSessionID string    `json:"new_session_id"`
	IdentityID   string    `json:"identity_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// LinkState is the state of a link request
type LinkState string

const (
	LinkPending   LinkState = "pending"
	LinkMigrating LinkState = "migrating"
	LinkCommitted LinkState = "committed"
	LinkFailed    LinkState = "failed"
	LinkConflict  LinkState = "conflict"
)

// Terminal reports whether no further transition is possible
func (s LinkState) Terminal() bool {
	switch s {
	case LinkCommitted, LinkFailed, LinkConflict:
		return true
	default:
		return false
	}
}

// InFlight reports whether the request still holds its source
func (s LinkState) InFlight() bool {
	return s == LinkPending || s == LinkMigrating
}

// LinkRequest tracks one attempt to graduate an anonymous identity
type LinkRequest struct {
	ID               string      `json:"id"`
	IdempotencyKey   string      `json:"idempotency_key"`
	SourceIdentityID string      `json:"source_identity_id"`
	TargetCredential *Credential `json:"target_credential,omitempty"`
	// TargetIdentityID is set when the anonymous data merges into an
	// existing permanent identity instead of a new one
	TargetIdentityID string    `json:"target_identity_id,omitempty"`
	DisplayName      string    `json:"display_name,omitempty"`
	State            LinkState `json:"state"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	ResultIdentityID string    `json:"result_identity_id,omitempty"`
	ResultSessionID  string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsMerge reports whether the request targets an existing identity
func (r *LinkRequest) IsMerge() bool {
	return r.TargetIdentityID != ""
}

// OwnedResource is a piece of user data owned by one identity
type OwnedResource struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// MagicLinkToken is a one-time passwordless sign-in token
type MagicLinkToken struct {
	TokenHash  string
	Email      string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// RetentionMode controls what happens to an anonymous identity after a link
type RetentionMode string

const (
	// RetainDelete removes the anonymous row
	RetainDelete RetentionMode = "delete"
	// RetainArchive keeps the row, marked consumed, with no resources or sessions
	RetainArchive RetentionMode = "archive"
)

// ParseRetentionMode parses a retention mode, defaulting to delete
func ParseRetentionMode(s string) (RetentionMode, error) {
	switch RetentionMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", RetainDelete:
		return RetainDelete, nil
	case RetainArchive:
		return RetainArchive, nil
	default:
		return "", fmt.Errorf("invalid retention mode %q (must be delete or archive)", s)
	}
}
