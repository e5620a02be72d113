// Package server is the HTTP shell: routing, middleware and the wire-level
// response envelope around the execution engine and the realtime hub.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/b3vet/swiftbase/internal/auth"
	"github.com/b3vet/swiftbase/internal/config"
	"github.com/b3vet/swiftbase/internal/engine"
	"github.com/b3vet/swiftbase/internal/realtime"
	"github.com/b3vet/swiftbase/internal/store"
)

// Server owns the HTTP listener and routes.
type Server struct {
	cfg    config.ServerConfig
	store  *store.Store
	engine *engine.Engine
	hub    *realtime.Hub
	log    *zap.SugaredLogger
	http   *http.Server
}

func New(cfg config.ServerConfig, st *store.Store, eng *engine.Engine, hub *realtime.Hub, validator auth.Validator, log *zap.SugaredLogger) *Server {
	s := &Server{cfg: cfg, store: st, engine: eng, hub: hub, log: log}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware("*"))

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(RateLimitMiddleware(cfg.RequestsPerMinute, cfg.RateBurst))
	v1.Use(AuthMiddleware(validator))

	v1.POST("/query", s.handleQuery)
	v1.GET("/realtime", s.handleRealtime)

	admin := v1.Group("")
	admin.Use(RequireAdmin())
	admin.POST("/collections", s.handleCreateCollection)
	admin.GET("/collections", s.handleListCollections)
	admin.GET("/collections/:name", s.handleGetCollection)
	admin.DELETE("/collections/:name", s.handleDropCollection)
	admin.POST("/queries", s.handleSaveQuery)
	admin.GET("/queries", s.handleListQueries)
	admin.DELETE("/queries/:name", s.handleDeleteQuery)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Infow("http server starting", "addr", s.cfg.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then drops realtime connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.hub.Close()
	return err
}
