package identity

// Request bodies shared by the HTTP server and client

// CredentialInput is a credential as submitted by a client
type CredentialInput struct {
	Method   Method `json:"method,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
}

// SignUpRequest is the body of POST /identity/signup
type SignUpRequest struct {
	Credential          CredentialInput `json:"credential"`
	DisplayName         string          `json:"displayName,omitempty"`
	CurrentSessionToken string          `json:"currentSessionToken,omitempty"`
	IdempotencyKey      string          `json:"idempotencyKey,omitempty"`
}

// SignInRequest is the body of POST /identity/signin
type SignInRequest struct {
	Credential          CredentialInput `json:"credential"`
	CurrentSessionToken string          `json:"currentSessionToken,omitempty"`
	IdempotencyKey      string          `json:"idempotencyKey,omitempty"`
}

// BeginLinkRequest is the body of POST /identity/link/begin
type BeginLinkRequest struct {
	SourceIdentityID string          `json:"sourceIdentityId"`
	Credential       CredentialInput `json:"credential"`
	IdempotencyKey   string          `json:"idempotencyKey"`
	DisplayName      string          `json:"displayName,omitempty"`
}

// CommitLinkRequest is the body of POST /identity/link/commit
type CommitLinkRequest struct {
	LinkRequestID string `json:"linkRequestId"`
}

// MagicLinkRequest is the body of POST /identity/magic-link
type MagicLinkRequest struct {
	Email string `json:"email"`
}

// VerifyMagicLinkRequest is the body of POST /identity/magic-link/verify
type VerifyMagicLinkRequest struct {
	Token               string `json:"token"`
	CurrentSessionToken string `json:"currentSessionToken,omitempty"`
	IdempotencyKey      string `json:"idempotencyKey,omitempty"`
}

// CreateResourceRequest is the body of POST /api/resources
type CreateResourceRequest struct {
	Kind  string `json:"kind"`
	Title string `json:"title"`
}

// ErrorBody is the body of every error response
type ErrorBody struct {
	Error     string    `json:"error"`
	Kind      ErrorKind `json:"kind,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	// AnonymousDataIntact is always present on link routes
	AnonymousDataIntact *bool `json:"anonymous_data_intact,omitempty"`
}

// AsError converts a decoded error body back into an *Error
func (b ErrorBody) AsError(op string) *Error {
	kind := b.Kind
	if kind == "" {
		kind = KindInternal
	}
	e := &Error{Kind: kind, Op: op, Message: b.Error, Attempts: b.Attempts}
	if b.AnonymousDataIntact != nil {
		e.DataIntact = *b.AnonymousDataIntact
	}
	return e
}
