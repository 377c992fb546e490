package identity

import "time"

// Profile is the client-facing projection of an identity
type Profile struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	DisplayName   string    `json:"displayName"`
	Email         string    `json:"email,omitempty"`
	EmailVerified bool      `json:"emailVerified"`
	LinkedFrom    string    `json:"linkedFrom,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ProfileOf projects an identity for clients
func ProfileOf(i *Identity) Profile {
	p := Profile{
		ID:          i.ID,
		Kind:        i.Kind,
		DisplayName: i.DisplayName,
		LinkedFrom:  i.LinkedFrom,
		CreatedAt:   i.CreatedAt,
	}
	if i.Credential != nil {
		p.Email = i.Credential.Email
		p.EmailVerified = i.Credential.EmailVerified
	}
	return p
}

// SessionToken is the opaque session representation handed to clients
type SessionToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AuthResult is the response of every flow that issues a session
type AuthResult struct {
	Identity Profile      `json:"identity"`
	Session  SessionToken `json:"session"`
	// Linked is true when the flow graduated an anonymous identity
	Linked bool `json:"linked,omitempty"`
}

// SessionView is a resolved session with its owning identity
type SessionView struct {
	Identity *Identity
	Session  *Session
	Token    string
	// Redirected is true when the presented token was replaced by a link
	Redirected bool
}

// Result converts the view into a client response
func (v *SessionView) Result() AuthResult {
	return AuthResult{
		Identity: ProfileOf(v.Identity),
		Session:  SessionToken{Token: v.Token, ExpiresAt: v.Session.ExpiresAt},
	}
}

// LinkStatus is the client-facing projection of a link request
type LinkStatus struct {
	ID               string    `json:"id"`
	State            LinkState `json:"state"`
	SourceIdentityID string    `json:"sourceIdentityId"`
	TargetIdentityID string    `json:"targetIdentityId,omitempty"`
	ResultIdentityID string    `json:"resultIdentityId,omitempty"`
	FailureReason    string    `json:"failureReason,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// LinkStatusOf projects a link request for clients
func LinkStatusOf(r *LinkRequest) LinkStatus {
	return LinkStatus{
		ID:               r.ID,
		State:            r.State,
		SourceIdentityID: r.SourceIdentityID,
		TargetIdentityID: r.TargetIdentityID,
		ResultIdentityID: r.ResultIdentityID,
		FailureReason:    r.FailureReason,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

// LinkOutcome is the response of a committed link
type LinkOutcome struct {
	AuthResult
	LinkRequest LinkStatus `json:"linkRequest"`
	Migrated    int64      `json:"migratedResources"`
	// Replayed is true when an earlier commit's result was returned
	Replayed bool `json:"replayed"`
}
