package api

import (
	"net/http"

	"github.com/platinummonkey/idlink/pkg/httputil"
	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/middleware"
)

// getProfile handles GET /api/user/profile
func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, identity.ProfileOf(middleware.GetSession(r).Identity))
}

// listResources handles GET /api/resources
func (s *Server) listResources(w http.ResponseWriter, r *http.Request) {
	resources, err := s.orch.ListResources(r.Context(), middleware.GetSession(r))
	if err != nil {
		httputil.WriteIdentityError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"resources": resources})
}

// createResource handles POST /api/resources
func (s *Server) createResource(w http.ResponseWriter, r *http.Request) {
	var req identity.CreateResourceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	res, err := s.orch.CreateResource(r.Context(), middleware.GetSession(r), req.Kind, req.Title)
	if err != nil {
		httputil.WriteIdentityError(w, err)
		return
	}
	httputil.WriteCreated(w, res)
}
