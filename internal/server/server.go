// Package server exposes the dealsync HTTP API: board reads, move enqueue,
// sync status and trigger, operator admin endpoints, and the OAuth
// re-authorization flow.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/clinicops/dealsync/internal/config"
	"github.com/clinicops/dealsync/internal/processor"
	"github.com/clinicops/dealsync/internal/queue"
	"github.com/clinicops/dealsync/internal/token"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Server wires the HTTP layer to the queue, broker, and processor.
type Server struct {
	cfg       *config.Config
	db        *gorm.DB
	store     *queue.Store
	overrides *queue.Overrides
	broker    *token.Broker
	proc      *processor.Processor
	logger    *zap.Logger
	engine    *gin.Engine
}

// New builds the server and registers all routes.
func New(cfg *config.Config, db *gorm.DB, store *queue.Store, overrides *queue.Overrides, broker *token.Broker, proc *processor.Processor, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	s := &Server{
		cfg:       cfg,
		db:        db,
		store:     store,
		overrides: overrides,
		broker:    broker,
		proc:      proc,
		logger:    logger,
		engine:    engine,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying HTTP handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start runs the HTTP server. It blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.HTTP.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http_shutdown_failed", zap.Error(err))
		}
	}()

	s.logger.Info("http_listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// requestLogger replaces the default gin logger with structured zap logging.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
