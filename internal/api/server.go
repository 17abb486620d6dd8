package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"scriptflow/internal/config"
	"scriptflow/internal/monitor"
	"scriptflow/internal/storage"
)

// Server is the main HTTP server for the platform API.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	startTime  time.Time
}

// NewServer creates and configures the HTTP server with all routes and middleware.
func NewServer(cfg *config.Config, handlers *Handlers, db *storage.DB, metrics *monitor.Metrics) *Server {
	s := &Server{
		handlers:  handlers,
		cfg:       cfg,
		startTime: time.Now(),
	}

	// User-scoped API. Identity comes from the configured header; ownership
	// checks happen in the services.
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /v1/scripts/validate", handlers.HandleValidate)
	apiMux.HandleFunc("POST /v1/integrations/validate", handlers.HandleValidateIntegrations)
	apiMux.HandleFunc("POST /v1/scripts/deploy", handlers.HandleDeploy)
	apiMux.HandleFunc("GET /v1/deployments", handlers.HandleListDeployments)
	apiMux.HandleFunc("GET /v1/deployments/{id}", handlers.HandleGetDeployment)
	apiMux.HandleFunc("POST /v1/deployments/{id}/pause", handlers.HandlePauseDeployment)
	apiMux.HandleFunc("POST /v1/deployments/{id}/resume", handlers.HandleResumeDeployment)
	apiMux.HandleFunc("DELETE /v1/deployments/{id}", handlers.HandleDeleteDeployment)
	apiMux.HandleFunc("POST /v1/deployments/{id}/fire", handlers.HandleFireDeployment)
	apiMux.HandleFunc("GET /v1/deployments/{id}/runs", handlers.HandleListRuns)
	apiMux.HandleFunc("GET /v1/runs/{id}", handlers.HandleGetRun)
	apiMux.HandleFunc("GET /v1/runs/{id}/logs", handlers.HandleRunLogs)
	apiMux.HandleFunc("GET /v1/credentials", handlers.HandleListCredentials)
	apiMux.HandleFunc("PUT /v1/credentials/{integration}", handlers.HandleSaveCredential)
	apiMux.HandleFunc("DELETE /v1/credentials/{integration}", handlers.HandleDeleteCredential)

	identified := UserIDMiddleware(cfg.Security.UserHeader)(apiMux)

	// Top-level mux: health/metrics bypass identity, everything else needs it.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth(db))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/", identified)

	// Apply middleware chain (outermost first)
	var handler http.Handler = mux
	handler = MetricsMiddleware(metrics)(handler)
	handler = RateLimitMiddleware(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Warn().Msg("TLS not enabled, running plain HTTP (not recommended for production)")
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbOK := db == nil || db.Healthy(r.Context())

		resp := HealthResponse{
			Status:   "ok",
			Database: dbOK,
			Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		}
		if !dbOK {
			resp.Status = "degraded"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
