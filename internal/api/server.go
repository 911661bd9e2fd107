// Package api exposes the fraud engine over HTTP: event ingestion for the
// platform collaborators and read/review endpoints for investigators.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quantarena/arena/internal/fraud/engine"
)

// SweepRunner triggers a similarity sweep on demand.
type SweepRunner interface {
	RunOnce(ctx context.Context) error
}

// Server is the HTTP surface of the fraud engine.
type Server struct {
	logger  *zap.SugaredLogger
	engine  *engine.Engine
	sweeper SweepRunner
	http    *http.Server
}

// NewServer builds the server and its routes. The sweeper may be nil when
// the sweep is disabled.
func NewServer(logger *zap.SugaredLogger, eng *engine.Engine, sweeper SweepRunner, registry *prometheus.Registry, addr string) *Server {
	s := &Server{
		logger:  logger,
		engine:  eng,
		sweeper: sweeper,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	{
		events := v1.Group("/events")
		events.POST("/trade-closed", s.handleTradeClosed)
		events.POST("/payment", s.handlePaymentSeen)
		events.POST("/device", s.handleDeviceSeen)
		events.POST("/competition-entry", s.handleCompetitionEntered)
		events.POST("/registration", s.handleAccountRegistered)

		v1.GET("/profiles/:userID", s.handleGetProfile)

		v1.GET("/scores/:userID", s.handleGetScore)
		v1.POST("/scores/:userID/reset", s.handleResetScore)

		v1.GET("/similarity", s.handleListSimilarity)
		v1.POST("/similarity/review", s.handleReviewSimilarity)

		v1.GET("/alerts", s.handleListAlerts)
		v1.GET("/alerts/:id", s.handleGetAlert)
		v1.PUT("/alerts/:id/status", s.handleUpdateAlertStatus)

		v1.POST("/sweep/run", s.handleRunSweep)
	}

	s.http = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Infow("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debugw("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(started),
		)
	}
}
