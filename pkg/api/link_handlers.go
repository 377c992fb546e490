package api

import (
	"net/http"

	"github.com/platinummonkey/idlink/pkg/authflow"
	"github.com/platinummonkey/idlink/pkg/httputil"
	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/middleware"
)

// beginLink handles POST /identity/link/begin
func (s *Server) beginLink(w http.ResponseWriter, r *http.Request) {
	var req identity.BeginLinkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	link, err := s.orch.BeginLink(r.Context(), middleware.GetSession(r), authflow.LinkInput{
		SourceIdentityID: req.SourceIdentityID,
		IdempotencyKey:   httputil.IdempotencyKey(r, req.IdempotencyKey),
		Method:           req.Credential.Method,
		Email:            req.Credential.Email,
		Password:         req.Credential.Password,
		DisplayName:      req.DisplayName,
	})
	if err != nil {
		httputil.WriteLinkError(w, err)
		return
	}

	status := http.StatusOK
	if link.State == identity.LinkPending {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, identity.LinkStatusOf(link))
}

// commitLink handles POST /identity/link/commit
func (s *Server) commitLink(w http.ResponseWriter, r *http.Request) {
	var req identity.CommitLinkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.LinkRequestID, "linkRequestId") {
		return
	}

	res, err := s.orch.CommitLink(r.Context(), middleware.GetSession(r), req.LinkRequestID)
	if err != nil {
		httputil.WriteLinkError(w, err)
		return
	}
	httputil.WriteSuccess(w, res)
}

// getLink handles GET /identity/link/{id}
func (s *Server) getLink(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	link, err := s.orch.GetLink(r.Context(), middleware.GetSession(r), id)
	if err != nil {
		httputil.WriteLinkError(w, err)
		return
	}
	httputil.WriteSuccess(w, identity.LinkStatusOf(link))
}
