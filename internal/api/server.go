package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"fx-signal-engine/internal/engine"
	"fx-signal-engine/internal/events"
	"fx-signal-engine/internal/performance"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host           string
	Port           int
	ProductionMode bool
}

// Server exposes the read-only status API: engine state, open trades,
// performance records, and recent events. It never accepts commands; the
// engines run entirely off the price feed.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	engines    map[string]*engine.Engine
	store      performance.Store
	ring       *events.Ring
	config     ServerConfig
	logger     zerolog.Logger
}

// NewServer wires the router. Engines are keyed by symbol; ring may be nil
// when event history is not wanted.
func NewServer(config ServerConfig, engines []*engine.Engine, store performance.Store, ring *events.Ring, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8088"}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	bySymbol := make(map[string]*engine.Engine, len(engines))
	for _, e := range engines {
		bySymbol[e.Symbol()] = e
	}

	server := &Server{
		router:  router,
		engines: bySymbol,
		store:   store,
		ring:    ring,
		config:  config,
		logger:  logger.With().Str("component", "API").Logger(),
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/engine/:symbol", s.handleEngine)
		api.GET("/trades", s.handleTrades)
		api.GET("/performance", s.handlePerformance)
		api.GET("/events", s.handleEvents)
	}
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("HTTP server starting")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
