package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/observability"
)

const (
	// MagicLinkPrefix identifies magic-link tokens
	MagicLinkPrefix = "mlk_"
	// DefaultMagicLinkTTL is how long a magic link stays valid
	DefaultMagicLinkTTL = 15 * time.Minute
)

// Sender delivers a magic link to its recipient
type Sender interface {
	SendMagicLink(ctx context.Context, email, link string) error
}

// LogSender writes magic links to the log instead of sending mail
type LogSender struct {
	logger *observability.Logger
}

// NewLogSender creates a sender that logs links
func NewLogSender(logger *observability.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// SendMagicLink logs the link
func (s *LogSender) SendMagicLink(ctx context.Context, email, link string) error {
	s.logger.WithFields(map[string]interface{}{
		"email": email,
		"link":  link,
	}).Info("Magic link issued")
	return nil
}

// MagicLinks issues one-time sign-in tokens. Only the token hash is stored.
type MagicLinks struct {
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// NewMagicLinks creates a token issuer whose links point at baseURL
func NewMagicLinks(baseURL string, ttl time.Duration) *MagicLinks {
	if ttl <= 0 {
		ttl = DefaultMagicLinkTTL
	}
	return &MagicLinks{baseURL: strings.TrimRight(baseURL, "/"), ttl: ttl, now: time.Now}
}

// Issue creates a new token for email. It returns the plaintext token and the
// record to persist.
func (m *MagicLinks) Issue(email string) (string, *identity.MagicLinkToken, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("failed to generate magic link token: %w", err)
	}
	token := MagicLinkPrefix + base64.RawURLEncoding.EncodeToString(buf)

	now := m.now().UTC()
	return token, &identity.MagicLinkToken{
		TokenHash: HashToken(token),
		Email:     identity.NormalizeEmail(email),
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}, nil
}

// Link builds the URL that carries token
func (m *MagicLinks) Link(token string) string {
	return m.baseURL + "/identity/magic-link/verify?token=" + url.QueryEscape(token)
}

// HashToken returns the storage key of a plaintext token
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ValidateToken checks the token shape before any lookup
func ValidateToken(token string) error {
	if !strings.HasPrefix(token, MagicLinkPrefix) || len(token) <= len(MagicLinkPrefix) {
		return identity.NewError(identity.KindValidation, "credential.ValidateToken", "malformed magic link token")
	}
	return nil
}
