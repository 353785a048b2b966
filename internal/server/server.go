package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	addondomain "github.com/smallbiznis/paymatch/internal/addon/domain"
	"github.com/smallbiznis/paymatch/internal/config"
	"github.com/smallbiznis/paymatch/internal/observability"
	obslogger "github.com/smallbiznis/paymatch/internal/observability/logger"
	obstracing "github.com/smallbiznis/paymatch/internal/observability/tracing"
	"github.com/smallbiznis/paymatch/internal/providers/pdf"
	reconciliationdomain "github.com/smallbiznis/paymatch/internal/reconciliation/domain"
	subscriptiondomain "github.com/smallbiznis/paymatch/internal/subscription/domain"
	"github.com/smallbiznis/paymatch/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// webhookHandler is the part of the ingress gateway the HTTP layer needs.
type webhookHandler interface {
	Handle(ctx context.Context, req webhook.Request) (reconciliationdomain.PassSummary, error)
}

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log = log.Named("http.server")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	gateway    webhookHandler
	reconciler reconciliationdomain.Service
	addons     addondomain.Ledger
	users      subscriptiondomain.Activator
	receipts   pdf.Provider
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	Gateway    *webhook.Gateway
	Reconciler reconciliationdomain.Service
	Addons     addondomain.Ledger
	Users      subscriptiondomain.Activator
	Receipts   pdf.Provider `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	receipts := p.Receipts
	if receipts == nil {
		receipts = &pdf.NoOpProvider{}
	}
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.handlers"),
		gateway:    p.Gateway,
		reconciler: p.Reconciler,
		addons:     p.Addons,
		users:      p.Users,
		receipts:   receipts,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/webhooks")
	hooks.POST("/sepay", s.HandleSePayWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	users := api.Group("/users/:id")
	users.GET("/addon-quota", s.GetAddonQuota)
	users.POST("/addon-quota/consume", s.ConsumeAddonQuota)
	users.GET("/addon-purchases", s.ListAddonPurchases)

	txs := api.Group("/transactions")
	txs.GET("", s.ListTransactions)
	txs.GET("/:id", s.GetTransaction)
	txs.GET("/:id/receipt", s.GetTransactionReceipt)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
