// Package server wires the HTTP surface: webhook ingress, tenant billing
// endpoints and operator diagnostics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/clearhaven/dunlin/internal/config"
	ledgerdomain "github.com/clearhaven/dunlin/internal/eventledger/domain"
	"github.com/clearhaven/dunlin/internal/reconcile"
	subscriptiondomain "github.com/clearhaven/dunlin/internal/subscription/domain"
	tenantdomain "github.com/clearhaven/dunlin/internal/tenant/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogMiddleware(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	log             *zap.Logger
	reconciler      *reconcile.Service
	subscriptionSvc subscriptiondomain.Service
	tenantRepo      tenantdomain.Repository
	ledgerRepo      ledgerdomain.Repository
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	Log             *zap.Logger
	Reconciler      *reconcile.Service
	SubscriptionSvc subscriptiondomain.Service
	TenantRepo      tenantdomain.Repository
	LedgerRepo      ledgerdomain.Repository
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		log:             p.Log.Named("server"),
		reconciler:      p.Reconciler,
		subscriptionSvc: p.SubscriptionSvc,
		tenantRepo:      p.TenantRepo,
		ledgerRepo:      p.LedgerRepo,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	s.engine.POST("/webhooks/payment", s.HandlePaymentWebhook)

	tenants := s.engine.Group("/tenants/:id")
	{
		tenants.GET("/billing", s.GetBillingStatus)
		tenants.POST("/billing/checkout", s.StartCheckout)
		tenants.POST("/billing/portal", s.OpenBillingPortal)
		tenants.POST("/plan/upgrade", s.UpgradePlan)
		tenants.POST("/plan/downgrade", s.ScheduleDowngrade)
		tenants.POST("/plan/downgrade/cancel", s.CancelScheduledDowngrade)
		tenants.POST("/billing/banners/dispute/dismiss", s.DismissDisputeBanner)
		tenants.POST("/billing/banners/refund/dismiss", s.DismissRefundBanner)
	}

	internal := s.engine.Group("/internal")
	{
		internal.POST("/customers/:ref/reprocess", s.ReprocessCustomer)
		internal.GET("/events", s.ListLedgerEvents)
	}
}
