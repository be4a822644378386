package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/rewards/config"
	"example.com/backstage/services/rewards/internal/api/handlers"
	"example.com/backstage/services/rewards/internal/metrics"
	"example.com/backstage/services/rewards/internal/tracing"
)

// Dependencies are the collaborators the HTTP server routes to
type Dependencies struct {
	Redeemer     handlers.Redeemer
	Items        handlers.ItemService
	Metrics      *metrics.Metrics
	Tracer       tracing.Tracer
	HealthChecks map[string]handlers.HealthCheck
}

// Server represents the HTTP server
type Server struct {
	config      config.Config
	router      *gin.Engine
	httpServer  *http.Server
	deps        Dependencies
	rateLimiter *RateLimiter
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, deps Dependencies) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		config:      cfg,
		deps:        deps,
		rateLimiter: NewRateLimiter(cfg.Server.RatePerMinute, cfg.Server.RateBurst),
	}
	server.router = server.setupRouter()

	server.httpServer = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           server.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
	}

	return server
}

// Router exposes the gin engine, mostly for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(gin.Recovery())
	router.Use(LoggingMiddleware())
	if s.deps.Tracer != nil && s.deps.Tracer.Application() != nil {
		router.Use(nrgin.Middleware(s.deps.Tracer.Application()))
	}
	router.NoRoute(NoRouteHandler)

	handlers.NewMetricsHandler(s.deps.Metrics, s.deps.HealthChecks).
		RegisterRoutes(router, s.config.Server.MetricsEnabled)

	v1 := router.Group("/api/v1")

	handlers.NewRedemptionHandler(s.deps.Redeemer).
		RegisterRoutes(v1, s.rateLimiter.Middleware())
	handlers.NewItemsHandler(s.deps.Items).RegisterRoutes(v1)

	admin := v1.Group("/admin", AdminKeyMiddleware(s.config.Server.AdminKey))
	handlers.NewAdminHandler(s.deps.Items).RegisterRoutes(admin)

	return router
}

// Start starts the HTTP server and sweeps idle rate limiter entries until
// the server stops.
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("Starting HTTP server")

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(visitorIdleTTL)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.rateLimiter.Sweep()
			case <-done:
				return
			}
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
