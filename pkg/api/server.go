package api

import (
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/idlink/pkg/authflow"
	"github.com/platinummonkey/idlink/pkg/httputil"
	"github.com/platinummonkey/idlink/pkg/middleware"
	"github.com/platinummonkey/idlink/pkg/observability"
)

// Config holds the optional collaborators of a Server
type Config struct {
	Logger *observability.Logger

	// Metrics and Registry enable request metrics and /metrics
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	// Health enables /health routes
	Health *observability.HealthChecker

	// AnonymousLimiter limits anonymous identity creation per IP
	AnonymousLimiter middleware.Limiter

	RequestTimeout time.Duration
	MaxBodyBytes   int64
	CORSOrigins    []string
}

// Server represents our API server
type Server struct {
	orch    *authflow.Orchestrator
	router  *mux.Router
	handler http.Handler
	config  Config
	auth    *middleware.SessionAuth
}

// NewServer creates a new API server
func NewServer(orch *authflow.Orchestrator, config Config) *Server {
	if config.Logger == nil {
		config.Logger = observability.NewLogger(observability.InfoLevel, os.Stdout)
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		orch:   orch,
		router: mux.NewRouter(),
		config: config,
		auth:   middleware.NewSessionAuth(orch, false),
	}
	s.setupRoutes()

	chain := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(config.Logger),
		httputil.RecoveryMiddleware(config.Logger),
		httputil.TimeoutMiddleware(config.RequestTimeout),
		httputil.MaxBytesMiddleware(config.MaxBodyBytes),
	}
	if len(config.CORSOrigins) > 0 {
		chain = append([]func(http.Handler) http.Handler{httputil.CORSMiddleware(config.CORSOrigins)}, chain...)
	}
	s.handler = otelhttp.NewHandler(httputil.Chain(chain...)(s.router), "idlink",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.config.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.config.Metrics))
	}

	id := s.router.PathPrefix("/identity").Subrouter()
	id.Use(httputil.ContentTypeMiddleware)

	anonymous := http.Handler(http.HandlerFunc(s.createAnonymous))
	if s.config.AnonymousLimiter != nil {
		anonymous = middleware.NewRateLimitMiddleware(s.config.AnonymousLimiter, s.config.Logger).Handler(anonymous)
	}
	id.Handle("/anonymous", anonymous).Methods("POST")
	id.HandleFunc("/signup", s.signUp).Methods("POST")
	id.HandleFunc("/signin", s.signIn).Methods("POST")
	id.HandleFunc("/signout", s.signOut).Methods("POST")
	id.Handle("/session", s.auth.Handler(http.HandlerFunc(s.getSession))).Methods("GET")
	id.HandleFunc("/magic-link", s.requestMagicLink).Methods("POST")
	id.HandleFunc("/magic-link/verify", s.verifyMagicLink).Methods("GET", "POST")

	id.Handle("/link/begin", s.auth.Handler(http.HandlerFunc(s.beginLink))).Methods("POST")
	id.Handle("/link/commit", s.auth.Handler(http.HandlerFunc(s.commitLink))).Methods("POST")
	id.Handle("/link/{id}", s.auth.Handler(http.HandlerFunc(s.getLink))).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.auth.Handler)
	api.Handle("/user/profile", middleware.RequirePermanent(http.HandlerFunc(s.getProfile))).Methods("GET")
	api.HandleFunc("/resources", s.listResources).Methods("GET")
	api.HandleFunc("/resources", s.createResource).Methods("POST")

	if s.config.Health != nil {
		observability.RegisterHealthRoutes(s.router, s.config.Health)
	}
	if s.config.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.config.Registry)).Methods("GET")
	}
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the route table
func (s *Server) Router() *mux.Router {
	return s.router
}
