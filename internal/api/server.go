// Package api exposes the matching engine over HTTP.
package api

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/eshaffer321/recon-backend/internal/domain/automatch"
	"github.com/eshaffer321/recon-backend/internal/domain/consolidation"
	"github.com/eshaffer321/recon-backend/internal/domain/vendor"
	"github.com/eshaffer321/recon-backend/internal/infrastructure/storage"
)

// Config holds API server configuration.
type Config struct {
	AllowedOrigins []string
}

// DefaultConfig returns sensible defaults for the API server.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
	}
}

// Server is the HTTP API server.
type Server struct {
	config       Config
	repo         storage.Repository
	matcher      *automatch.Matcher
	consolidator *consolidation.Consolidator
	learner      *vendor.Learner
	logger       *slog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, repo storage.Repository, matcher *automatch.Matcher, consolidator *consolidation.Consolidator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:       cfg,
		repo:         repo,
		matcher:      matcher,
		consolidator: consolidator,
		learner:      vendor.NewLearner(),
		logger:       logger.With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/health"},
	}))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", s.health)

	api := router.Group("/api")
	{
		api.GET("/line-items/:id/candidates", s.getCandidates)
		api.POST("/line-items/:id/automatch", s.autoMatchLineItem)
		api.POST("/line-items/:id/link", s.linkLineItem)
		api.POST("/line-items/:id/unlink", s.unlinkLineItem)
		api.POST("/line-items/:id/apply-match", s.applyMatch)

		api.POST("/invoices/:id/automatch", s.autoMatchInvoice)
		api.POST("/invoices/:id/automatch/apply", s.applyAutoMatchesForInvoice)

		api.POST("/consolidation/run", s.runConsolidation)
		api.GET("/consolidation/results", s.listConsolidationResults)
		api.POST("/consolidation/results/:id/approve", s.approveConsolidation)
		api.POST("/consolidation/results/:id/reject", s.rejectConsolidation)

		api.POST("/aliases/learn", s.learnAlias)
	}

	return router
}
