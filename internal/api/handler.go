// Package api exposes the engine over HTTP: user subscription and order
// endpoints behind JWT auth, and operator controls behind an admin claim.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bot-trading-core/internal/engine"
	"bot-trading-core/internal/events"
	"bot-trading-core/internal/monitor"
)

// Server wires HTTP endpoints around the engine service.
type Server struct {
	Router    *gin.Engine
	Engine    engine.Service
	Bus       *events.Bus
	Metrics   *monitor.SystemMetrics
	JWTSecret string

	log  *zap.Logger
	http *http.Server
}

// Options configures NewServer.
type Options struct {
	Engine    engine.Service
	Bus       *events.Bus
	Metrics   *monitor.SystemMetrics
	JWTSecret string
	Log       *zap.Logger
	// RateLimit is requests per second per client IP; 0 means 20.
	RateLimit float64
	Burst     int
}

func NewServer(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("api")
	limit, burst := opts.RateLimit, opts.Burst
	if limit <= 0 {
		limit = 20
	}
	if burst <= 0 {
		burst = 50
	}

	r := gin.New()
	r.Use(RecoveryMiddleware(log))
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware(newIPLimiters(rate.Limit(limit), burst), log))

	s := &Server{
		Router:    r,
		Engine:    opts.Engine,
		Bus:       opts.Bus,
		Metrics:   opts.Metrics,
		JWTSecret: opts.JWTSecret,
		log:       log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/bots", s.listBots)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/ws", s.websocket)

			protected.POST("/bots/:id/subscribe", s.subscribe)
			protected.DELETE("/bots/:id/subscribe", s.unsubscribe)
			protected.GET("/bots/:id/position", s.getPosition)

			protected.GET("/orders", s.listOrders)
			protected.POST("/orders", s.placeOrder)
			protected.DELETE("/orders/:id", s.cancelOrder)

			protected.GET("/wallets", s.listWallets)
			protected.POST("/wallets/deposit", s.deposit)

			admin := protected.Group("/admin")
			admin.Use(AdminOnly())
			{
				admin.GET("/trading-mode", s.getTradingMode)
				admin.PUT("/trading-mode", s.setTradingMode)
				admin.PUT("/bots/:id/kill-switch", s.setKillSwitch)
				admin.DELETE("/bots/:id/kill-switch", s.clearKillSwitch)
				admin.POST("/bots/:id/evict", s.evictBot)
				admin.POST("/evaluations/monthly", s.runMonthlyEvaluation)
				admin.POST("/evaluations/daily-drawdown", s.runDailyDrawdownCheck)
			}
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("api listening", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
