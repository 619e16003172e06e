package adminapi

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/kongor-project/loginway/internal/config"
	"github.com/kongor-project/loginway/internal/ipban"
	"github.com/kongor-project/loginway/internal/patch"
	"github.com/kongor-project/loginway/internal/queue"
	"github.com/kongor-project/loginway/internal/registry"
)

// Server is the gateway's read-only operator HTTP surface. Grounded on the
// teacher's internal/api.Server, trimmed to the endpoints this component
// actually has state for.
type Server struct {
	cfg      config.AdminConfig
	queue    *queue.AdmissionQueue
	sessions *registry.SessionRegistry
	patcher  *patch.Patcher
	bans     *ipban.Cache

	router     *gin.Engine
	httpServer *http.Server
}

// New builds a Server bound to the gateway's live state. None of the
// dependencies are mutated through this package; every handler is a plain
// read.
func New(cfg config.AdminConfig, q *queue.AdmissionQueue, sessions *registry.SessionRegistry, patcher *patch.Patcher, bans *ipban.Cache) *Server {
	if cfg.AuthToken == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{cfg: cfg, queue: q, sessions: sessions, patcher: patcher, bans: bans}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Authorization"},
		MaxAge:       12 * time.Hour,
	}))

	auth := NewAuthMiddleware(s.cfg.AuthToken)

	router.GET("/healthz", s.handleHealthz)

	protected := router.Group("/")
	protected.Use(auth.RequireToken())
	protected.GET("/population", s.handlePopulation)
	protected.GET("/queue", s.handleQueue)
	protected.GET("/patches", s.handlePatches)
	protected.GET("/bans", s.handleBans)

	return router
}

// Run starts the admin HTTP server and blocks until ctx is canceled or the
// server fails. Matches the teacher's context-driven graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		<-ctx.Done()
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("admin api starting")

	var err error
	if s.cfg.TLSEnabled {
		s.httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("adminapi: server error: %w", err)
	}
	return nil
}
