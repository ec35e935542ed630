// Package server wires the routing core into the HTTP service.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/klear-mf/internal/auth"
	"github.com/ksred/klear-mf/internal/catalog"
	"github.com/ksred/klear-mf/internal/config"
	"github.com/ksred/klear-mf/internal/connector"
	"github.com/ksred/klear-mf/internal/exchange"
	"github.com/ksred/klear-mf/internal/metrics"
	"github.com/ksred/klear-mf/internal/routing"
	"github.com/ksred/klear-mf/internal/rta"
	"github.com/ksred/klear-mf/internal/trading"
	"github.com/ksred/klear-mf/internal/types"
	"github.com/ksred/klear-mf/pkg/middleware"
)

// OpsDistributorID identifies tokens issued for the internal API key.
const OpsDistributorID = "OPS"

// Server holds the composed service. Gateway and RTA are exposed so the
// simulator can inject channel outages.
type Server struct {
	Router   *gin.Engine
	Hub      *routing.Hub
	Reloader *routing.Reloader
	Metrics  *metrics.Metrics
	Gateway  *exchange.SimulatedGateway
	RTA      *rta.Connector

	cfg     config.Config
	limiter *middleware.RateLimiter
}

// New builds every service on db, which must already be migrated.
func New(ctx context.Context, cfg config.Config, db *gorm.DB) (*Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	products := catalog.New(db)
	if cfg.SeedProducts {
		if err := products.Seed(ctx, catalog.DemoProducts()); err != nil {
			return nil, fmt.Errorf("seed catalog: %w", err)
		}
	}

	gateway := exchange.NewSimulatedGateway(cfg.ExchangeSuccessRate)
	exch := exchange.NewConnector(db, exchange.Options{
		SupportedSchemes: cfg.ExchangeSchemes,
		Gateway:          gateway,
	})
	agent := rta.NewConnector()

	hub, err := routing.NewHub(DefaultRouting(cfg), []connector.Connector{exch, agent}, routing.Options{
		ProbeTimeout:  cfg.ProbeTimeout,
		SubmitTimeout: cfg.SubmitTimeout,
		DB:            db,
		Metrics:       m,
	})
	if err != nil {
		return nil, err
	}

	reloader := routing.NewReloader(hub, routing.NewDatabase(db), m)
	if _, err := reloader.Reload(ctx); err != nil {
		return nil, fmt.Errorf("load stored routing config: %w", err)
	}

	authService := auth.NewService(cfg.JWTSecret, cfg.TokenTTL)
	authService.RegisterAPICredentials(cfg.APIKey, cfg.APISecret, cfg.DistributorID)
	authService.RegisterAPICredentials(cfg.InternalAPIKey, cfg.InternalAPISecret, OpsDistributorID,
		auth.PermissionOrders, auth.PermissionInternal)

	s := &Server{
		Hub:      hub,
		Reloader: reloader,
		Metrics:  m,
		Gateway:  gateway,
		RTA:      agent,
		cfg:      cfg,
		limiter: middleware.NewRateLimiter(
			middleware.Limit{Prefix: "/api/v1/auth", PerMinute: 10, Burst: 5},
			middleware.Limit{Prefix: "/api/v1/orders", PerMinute: cfg.OrderRatePerMinute, Burst: cfg.OrderRateBurst},
		),
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.TraceID(), middleware.RequestLogger())
	s.setupRoutes(
		router,
		authService,
		auth.NewGinHandlers(authService),
		trading.NewGinHandlers(trading.NewService(db, products, hub, m)),
		routing.NewGinHandlers(hub, reloader),
		catalog.NewGinHandlers(products),
	)
	s.Router = router
	return s, nil
}

// DefaultRouting sends full liquidations to the transfer agent and exchange
// listed schemes to the exchange with the transfer agent as fallback. It is
// used until a config is stored.
func DefaultRouting(cfg config.Config) *routing.Config {
	rules := []routing.Rule{
		{Priority: 100, TransactionType: types.FullRedemption, PreferredConnector: types.ConnectorRTA},
		{Priority: 100, TransactionType: types.FullSwitch, PreferredConnector: types.ConnectorRTA},
	}
	for _, scheme := range cfg.ExchangeSchemes {
		rules = append(rules, routing.Rule{
			Priority:           50,
			Scheme:             scheme,
			PreferredConnector: types.ConnectorExchange,
			FallbackConnector:  types.ConnectorRTA,
		})
	}
	return &routing.Config{Rules: rules, DefaultConnector: types.ConnectorType(cfg.DefaultConnector)}
}

// Start launches the background jobs: routing reloads and rate limiter
// cleanup. They stop when ctx is done or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Reloader.Start(s.cfg.RuleReloadSchedule); err != nil {
		return fmt.Errorf("start routing reloader: %w", err)
	}
	go s.limiter.Run(ctx)
	return nil
}

func (s *Server) Stop() {
	s.Reloader.Stop()
	log.Info().Msg("background jobs stopped")
}

// setupRoutes groups routes by audience:
//   - auth: public token issuance
//   - orders and products: distributor JWT
//   - internal: operations JWT with the internal permission
func (s *Server) setupRoutes(
	router *gin.Engine,
	authService *auth.Service,
	authHandlers *auth.GinHandlers,
	tradingHandlers *trading.GinHandlers,
	routingHandlers *routing.GinHandlers,
	catalogHandlers *catalog.GinHandlers,
) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "config_version": s.Hub.Config().Version})
	})
	router.GET(s.cfg.MetricsPath, gin.WrapH(s.Metrics.Handler()))

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		authGroup.Use(s.limiter.Middleware())
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		products := v1.Group("/products")
		products.Use(middleware.JWTAuth(authService))
		{
			products.GET("", catalogHandlers.ListProductsHandler())
			products.GET("/:product_id", catalogHandlers.GetProductHandler())
		}

		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(authService), s.limiter.Middleware())
		{
			orders.POST("/validate", tradingHandlers.ValidateOrderHandler())
			orders.POST("", tradingHandlers.SubmitOrderHandler())
			orders.GET("/:order_id", tradingHandlers.GetOrderStatusHandler())
			orders.POST("/:order_id/cancel", tradingHandlers.CancelOrderHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(authService))
		{
			internal.GET("/routing/config", routingHandlers.GetConfigHandler())
			internal.PUT("/routing/config", routingHandlers.UpdateConfigHandler())
			internal.GET("/routing/decisions/:trace_id", routingHandlers.GetDecisionsHandler())
			internal.POST("/orders/:order_id/status", tradingHandlers.UpdateStatusHandler())
		}
	}
}
