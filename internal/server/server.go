// Package server baut den gin-Router für `run --serve` und betreibt den HTTP-Server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"face-attendance-go/config"
	"face-attendance-go/internal/api/handlers"
	"face-attendance-go/internal/api/middleware"
	"face-attendance-go/internal/server/sse"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// RouteRegistrar registriert zusätzliche Routen (z.B. die Vorschau)
type RouteRegistrar interface {
	RegisterRoutes(router gin.IRouter)
}

// Server ist der HTTP-Server der Anwendung
type Server struct {
	cfg    config.ServerConfig
	engine *gin.Engine
}

// New erstellt den Router mit allen API-Routen
func New(cfg config.ServerConfig, translator *middleware.Translator, api *handlers.APIHandler, hub *sse.Hub, extra ...RouteRegistrar) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Accept-Language"},
		MaxAge:          12 * time.Hour,
	}))

	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{Path: "/", MaxAge: 30 * 24 * 3600, HttpOnly: true})
	engine.Use(sessions.Sessions("face_attendance", store))
	if translator != nil {
		engine.Use(middleware.I18n(translator))
	}

	apiGroup := engine.Group("/api")
	api.RegisterRoutes(apiGroup)
	if hub != nil {
		apiGroup.GET("/events", hub.Handler)
	}
	for _, r := range extra {
		r.RegisterRoutes(engine)
	}

	return &Server{cfg: cfg, engine: engine}
}

// Handler liefert den Router, z.B. für httptest
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run bedient Anfragen, bis ctx endet, und fährt den Server dann geordnet herunter
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting HTTP server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP server shutdown: %v", err)
	}
	log.Info("HTTP server stopped")
	return nil
}

// requestLogger protokolliert jede Anfrage über logrus
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("HTTP request failed")
			return
		}
		entry.Debug("HTTP request")
	}
}
