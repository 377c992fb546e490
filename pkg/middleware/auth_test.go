package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/observability"
)

type fakeResolver struct {
	views map[string]*identity.SessionView
	err   error
}

func (f *fakeResolver) ResolveSession(_ context.Context, token string) (*identity.SessionView, error) {
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.views[token]; ok {
		return v, nil
	}
	return nil, identity.NewError(identity.KindSessionExpired, "resolve", "session not found")
}

func view(kind identity.Kind, redirected bool) *identity.SessionView {
	return &identity.SessionView{
		Identity:   &identity.Identity{ID: "id-" + string(kind), Kind: kind},
		Session:    &identity.Session{ID: "sess"},
		Token:      "idl_new.sig",
		Redirected: redirected,
	}
}

func TestSessionAuth_Handler(t *testing.T) {
	resolver := &fakeResolver{views: map[string]*identity.SessionView{
		"anon":      view(identity.KindAnonymous, false),
		"perm":      view(identity.KindPermanent, false),
		"redirects": view(identity.KindPermanent, true),
	}}

	tests := []struct {
		name         string
		optional     bool
		header       string
		wantStatus   int
		wantCalled   bool
		wantIdentity string
		wantToken    string
	}{
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "missing header optional", optional: true, header: "", wantStatus: http.StatusOK, wantCalled: true},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "unknown token", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "unknown token optional", optional: true, header: "Bearer nope", wantStatus: http.StatusOK, wantCalled: true},
		{name: "anonymous", header: "Bearer anon", wantStatus: http.StatusOK, wantCalled: true, wantIdentity: "id-anonymous"},
		{name: "redirected", header: "Bearer redirects", wantStatus: http.StatusOK, wantCalled: true, wantIdentity: "id-permanent", wantToken: "idl_new.sig"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			var gotIdentity, gotLogged string
			handler := NewSessionAuth(resolver, tt.optional).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				if v := GetSession(r); v != nil {
					gotIdentity = v.Identity.ID
				}
				gotLogged = observability.GetIdentityID(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("GET", "/identity/session", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
			if gotIdentity != tt.wantIdentity || gotLogged != tt.wantIdentity {
				t.Errorf("identity = %q (context %q), want %q", gotIdentity, gotLogged, tt.wantIdentity)
			}
			if got := w.Header().Get(SessionTokenHeader); got != tt.wantToken {
				t.Errorf("%s = %q, want %q", SessionTokenHeader, got, tt.wantToken)
			}
		})
	}
}

func TestSessionAuth_StoreUnavailable(t *testing.T) {
	resolver := &fakeResolver{err: identity.NewError(identity.KindStoreUnavailable, "resolve", "down")}

	// Even optional auth must not silently drop a session it could not check
	handler := NewSessionAuth(resolver, true).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After")
	}
}

func TestRequirePermanent(t *testing.T) {
	resolver := &fakeResolver{views: map[string]*identity.SessionView{
		"anon": view(identity.KindAnonymous, false),
		"perm": view(identity.KindPermanent, false),
	}}
	handler := NewSessionAuth(resolver, true).Handler(RequirePermanent(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	tests := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer anon", http.StatusForbidden},
		{"Bearer perm", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/user/profile", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
