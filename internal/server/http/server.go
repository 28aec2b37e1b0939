package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"coderev/internal/logging"
	"coderev/internal/observability"
	"coderev/internal/review"
)

// ReviewService is the orchestrator behind the API.
type ReviewService interface {
	Ping(ctx context.Context) error
	Review(ctx context.Context, req review.Request) (review.ReviewOutcome, error)
	Refactor(ctx context.Context, code, language string, issues []string) (review.RefactorOutcome, error)
	ReviewAndRefactor(ctx context.Context, req review.Request) (review.CombinedOutcome, error)
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Addr           string
	Debug          bool
	StaticDir      string
	MaxUploadBytes int64
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           ":8080",
		StaticDir:      "web",
		MaxUploadBytes: 1 << 20,
		ReadTimeout:    30 * time.Second,
		// upstream retries can take several timeouts plus backoff
		WriteTimeout: 5 * time.Minute,
	}
}

// Server serves the review API.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	logger     logging.Logger
}

// NewServer builds the router and the HTTP server around service.
func NewServer(service ReviewService, cfg ServerConfig, logger logging.Logger, metrics *observability.MetricsCollector) *Server {
	logger = logging.OrNop(logger)
	engine := NewRouter(service, cfg, logger, metrics)
	return &Server{
		engine: engine,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// NewRouter wires middleware and routes onto a fresh gin engine.
func NewRouter(service ReviewService, cfg ServerConfig, logger logging.Logger, metrics *observability.MetricsCollector) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	logger = logging.OrNop(logger)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestIDMiddleware())
	engine.Use(AccessLogMiddleware(logger, metrics))

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", RequestIDHeader}
	corsConfig.ExposeHeaders = []string{RequestIDHeader}
	engine.Use(cors.New(corsConfig))

	h := newHandler(service, cfg.MaxUploadBytes, logger)

	engine.GET("/health", h.health)
	api := engine.Group("/api/v1")
	{
		api.POST("/review", h.review)
		api.POST("/refactor", h.refactor)
		api.POST("/review-and-refactor", h.reviewAndRefactor)
	}

	mountStatic(engine, cfg.StaticDir, logger)
	return engine
}

func mountStatic(engine *gin.Engine, dir string, logger logging.Logger) {
	if dir == "" {
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		logger.Debug("Static directory %q not found, UI disabled", dir)
		return
	}
	engine.Static("/static", dir)
	index := filepath.Join(dir, "index.html")
	if _, err := os.Stat(index); err == nil {
		engine.StaticFile("/", index)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("API server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
