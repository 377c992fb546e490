package api

import (
	"net/http"

	"github.com/platinummonkey/idlink/pkg/authflow"
	"github.com/platinummonkey/idlink/pkg/httputil"
	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/middleware"
)

// currentToken prefers the body value and falls back to the bearer header
func currentToken(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return httputil.BearerToken(r)
}

// createAnonymous handles POST /identity/anonymous
func (s *Server) createAnonymous(w http.ResponseWriter, r *http.Request) {
	token := httputil.BearerToken(r)
	res, err := s.orch.CreateAnonymous(r.Context(), token)
	if err != nil {
		httputil.WriteIdentityError(w, err)
		return
	}
	if token != "" && res.Session.Token == token {
		httputil.WriteSuccess(w, res)
		return
	}
	httputil.WriteCreated(w, res)
}

// signUp handles POST /identity/signup
func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	var req identity.SignUpRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	res, err := s.orch.SignUp(r.Context(), authflow.SignUpInput{
		Email:          req.Credential.Email,
		Password:       req.Credential.Password,
		DisplayName:    req.DisplayName,
		CurrentToken:   currentToken(r, req.CurrentSessionToken),
		IdempotencyKey: httputil.IdempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		s.writeFlowError(w, err, currentToken(r, req.CurrentSessionToken) != "")
		return
	}
	httputil.WriteCreated(w, res)
}

// signIn handles POST /identity/signin
func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	var req identity.SignInRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	res, err := s.orch.SignIn(r.Context(), authflow.SignInInput{
		Email:          req.Credential.Email,
		Password:       req.Credential.Password,
		CurrentToken:   currentToken(r, req.CurrentSessionToken),
		IdempotencyKey: httputil.IdempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		s.writeFlowError(w, err, currentToken(r, req.CurrentSessionToken) != "")
		return
	}
	httputil.WriteSuccess(w, res)
}

// getSession handles GET /identity/session
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	view := middleware.GetSession(r)
	httputil.WriteSuccess(w, view.Result())
}

// signOut handles POST /identity/signout
func (s *Server) signOut(w http.ResponseWriter, r *http.Request) {
	token := httputil.BearerToken(r)
	if token == "" {
		httputil.WriteUnauthorized(w, "missing bearer token")
		return
	}
	if err := s.orch.SignOut(r.Context(), token); err != nil {
		httputil.WriteIdentityError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// requestMagicLink handles POST /identity/magic-link
func (s *Server) requestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req identity.MagicLinkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := s.orch.RequestMagicLink(r.Context(), req.Email); err != nil {
		httputil.WriteIdentityError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// verifyMagicLink handles GET and POST /identity/magic-link/verify
func (s *Server) verifyMagicLink(w http.ResponseWriter, r *http.Request) {
	var req identity.VerifyMagicLinkRequest
	if r.Method == http.MethodGet {
		req.Token = r.URL.Query().Get("token")
	} else if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Token, "token") {
		return
	}

	current := currentToken(r, req.CurrentSessionToken)
	res, err := s.orch.VerifyMagicLink(r.Context(), req.Token, current, httputil.IdempotencyKey(r, req.IdempotencyKey))
	if err != nil {
		s.writeFlowError(w, err, current != "")
		return
	}
	httputil.WriteSuccess(w, res)
}

// writeFlowError reports a sign-in or sign-up failure. When the caller
// presented a session the flow may have been an implicit link, so the body
// says whether the anonymous data is intact.
func (s *Server) writeFlowError(w http.ResponseWriter, err error, withSession bool) {
	if withSession {
		httputil.WriteLinkError(w, err)
		return
	}
	httputil.WriteIdentityError(w, err)
}
