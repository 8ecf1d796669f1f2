package proxy

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"gemini-bridge/internal/adapter/openai"
	"gemini-bridge/internal/auth"
	"gemini-bridge/internal/config"
	"gemini-bridge/internal/gemini"
	"gemini-bridge/internal/registry"
)

// Server is the gateway HTTP server.
type Server struct {
	httpServer *http.Server
	manager    *auth.Manager
	models     *registry.Registry
	quota      *gemini.QuotaCache
	endpoint   string
	httpClient *http.Client
}

// New constructs a Server from the given config and auth manager.
func New(cfg *config.Config, manager *auth.Manager) *Server {
	hc := &http.Client{Timeout: cfg.RequestTimeout}
	s := &Server{
		manager:    manager,
		models:     registry.New(),
		quota:      gemini.NewQuotaCache(cfg.QuotaCacheTTL),
		endpoint:   cfg.Endpoint,
		httpClient: hc,
	}

	client := gemini.NewClient(cfg.Endpoint, manager, cfg.RequestTimeout)
	chat := openai.NewHandler(client, s.models, cfg.RequestTimeout)

	r := mux.NewRouter()
	r.Handle("/v1/chat/completions", chat).Methods(http.MethodPost)
	r.HandleFunc("/v1/models", s.handleModels).Methods(http.MethodGet)
	r.HandleFunc("/internal/usage", s.handleUsage).Methods(http.MethodGet)
	r.HandleFunc("/auth/status", s.handleAuthStatus).Methods(http.MethodGet)
	r.HandleFunc("/auth/login", s.handleAuthLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleAuthLogout).Methods(http.MethodPost)
	r.HandleFunc("/auth/quota", s.handleAuthQuota).Methods(http.MethodGet)

	var handler http.Handler = r
	handler = loggingMiddleware(handler)
	handler = recoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses are unbounded; contexts carry deadlines
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening and blocks until the server is stopped.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Handler returns the underlying http.Handler (for use in tests with httptest.NewServer).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
