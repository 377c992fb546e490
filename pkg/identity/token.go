package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// TokenPrefix identifies session bearer tokens
	TokenPrefix = "idl_"
	// MinSecretLength is the minimum signing secret size in bytes
	MinSecretLength = 32
)

// TokenIssuer turns session ids into opaque bearer tokens and back.
//
// Format: idl_<session id>.<base64url(HMAC-SHA256(secret, session id))>
//
// The token is a pure function of the session id, so a replayed link commit
// hands back the same token without storing it.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates an issuer with the given signing secret
func NewTokenIssuer(secret []byte) (*TokenIssuer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &TokenIssuer{secret: s}, nil
}

// Issue returns the bearer token for a session id
func (ti *TokenIssuer) Issue(sessionID string) string {
	return TokenPrefix + sessionID + "." + ti.sign(sessionID)
}

// Parse validates a bearer token and returns its session id
func (ti *TokenIssuer) Parse(token string) (string, error) {
	if !strings.HasPrefix(token, TokenPrefix) {
		return "", NewError(KindSessionExpired, "token.Parse", fmt.Sprintf("token must start with %q", TokenPrefix))
	}
	body := strings.TrimPrefix(token, TokenPrefix)
	dot := strings.LastIndexByte(body, '.')
	if dot <= 0 || dot == len(body)-1 {
		return "", NewError(KindSessionExpired, "token.Parse", "malformed token")
	}
	sessionID, sig := body[:dot], body[dot+1:]
	if !hmac.Equal([]byte(sig), []byte(ti.sign(sessionID))) {
		return "", NewError(KindSessionExpired, "token.Parse", "invalid token signature")
	}
	return sessionID, nil
}

func (ti *TokenIssuer) sign(sessionID string) string {
	mac := hmac.New(sha256.New, ti.secret)
	mac.Write([]byte(sessionID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
