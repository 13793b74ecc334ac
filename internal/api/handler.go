// Package api exposes the engine's control surface over HTTP and a websocket
// event stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"perp-core/internal/engine"
	"perp-core/internal/events"
	"perp-core/internal/monitor"
	"perp-core/pkg/db"
)

// Journal is the read side of the order and reconciliation journal.
type Journal interface {
	RecentOrders(ctx context.Context, limit int) ([]db.OrderRecord, error)
	RecentReconciliations(ctx context.Context, limit int) ([]db.ReconciliationRecord, error)
}

// Deps are the collaborators behind the routes. Journal, Bus and Metrics
// may be nil.
type Deps struct {
	Engine       engine.Service
	Bus          *events.Bus
	Journal      Journal
	Metrics      *monitor.Metrics
	SettingsPath string
	JWTSecret    string
	Version      string
}

// Server wires HTTP endpoints around the engine Service.
type Server struct {
	Router *gin.Engine
	deps   Deps
	log    *zap.Logger
}

func NewServer(deps Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("api")
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log, deps.Metrics)) // after the request ID is set
	r.Use(RateLimitMiddleware(newIPLimiter(20, 50), log))
	r.Use(TimeoutMiddleware(30*time.Second, log))
	r.Use(CORSMiddleware())

	s := &Server{Router: r, deps: deps, log: log}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.deps.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/config", s.getConfig)
		api.GET("/positions", s.getPositions)
		api.GET("/balance", s.getBalance)
		api.GET("/journal", s.getJournal)
		api.GET("/test-connection", s.testConnection)

		// Mutating routes need a token once JWT_SECRET is configured.
		protected := api.Group("")
		if s.deps.JWTSecret != "" {
			protected.Use(AuthMiddleware(s.deps.JWTSecret))
		}
		{
			protected.POST("/config", s.saveConfig)
			protected.POST("/start", s.start)
			protected.POST("/stop", s.stop)
			protected.POST("/positions/:symbol/close", s.closePosition)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.deps.Version})
}

// Handler returns the router for use in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.Router
}
