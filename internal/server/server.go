package server

import (
	"context"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/glassboxhq/glassbox/internal/api/middleware"
	"github.com/glassboxhq/glassbox/internal/app"
	"github.com/glassboxhq/glassbox/internal/bridge/transport"
	"github.com/glassboxhq/glassbox/internal/http"
	"github.com/glassboxhq/glassbox/internal/infrastructure/config"
	"github.com/glassboxhq/glassbox/internal/infrastructure/logging"
	"github.com/glassboxhq/glassbox/internal/infrastructure/monitoring"
)

// Server wraps the HTTP facade and the workspace it fronts.
type Server struct {
	router  *gin.Engine
	manager *app.Manager
	log     *logging.Logger
	httpSrv *nethttp.Server
}

// NewServer builds a workspace and its facade router.
func NewServer(cfg *config.Config, log *logging.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.NewNop()
	}

	manager, err := app.NewManager(app.Options{Config: cfg, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))
	router.Use(monitoring.Middleware(manager.Metrics()))

	handlers := http.NewHandlers(manager, log)
	wsHandler := transport.NewHandler(manager.Bridge(), log)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		manager.Metrics().Registry(),
		promhttp.HandlerOpts{},
	)))

	// Virtual filesystem
	router.GET("/fs/read", handlers.ReadFile)
	router.POST("/fs/write", handlers.WriteFile)
	router.GET("/fs/list", handlers.ListDir)
	router.GET("/fs/stat", handlers.StatFile)
	router.POST("/fs/mkdir", handlers.Mkdir)
	router.POST("/fs/rm", handlers.Remove)
	router.POST("/fs/rename", handlers.Rename)

	// Packages
	router.POST("/packages/install", handlers.Install)
	router.GET("/registry/*spec", handlers.RegistryFile)

	// Scripts
	router.GET("/scripts", handlers.ListScripts)
	router.POST("/scripts/:name/run", handlers.RunScript)

	// Virtual servers
	router.GET("/servers", handlers.ListServers)
	router.POST("/servers", handlers.StartServer)
	router.DELETE("/servers/:port", handlers.StopServer)
	router.POST("/servers/:port/restart", handlers.RestartServer)

	// Virtual dispatch for plain-HTTP clients
	router.Any("/~/:port/*path", handlers.Virtual)

	// Project seeding
	router.POST("/seed", handlers.Seed)

	// Streams
	router.GET("/bridge", wsHandler.HandleConnection)
	router.GET("/updates/:port", handlers.Updates)

	return &Server{
		router:  router,
		manager: manager,
		log:     log.Named("server"),
	}, nil
}

// Manager exposes the workspace, primarily for tests.
func (s *Server) Manager() *app.Manager { return s.manager }

// Router exposes the gin engine, primarily for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run serves the facade until the listener fails or Close is called.
func (s *Server) Run(addr string) error {
	s.httpSrv = &nethttp.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("facade listening", zap.String("addr", addr))
	err := s.httpSrv.ListenAndServe()
	if err == nethttp.ErrServerClosed {
		return nil
	}
	return err
}

// Close drains the listener and tears down the workspace.
func (s *Server) Close() error {
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.log.Warn("listener shutdown", zap.Error(err))
		}
	}
	return s.manager.Close()
}
