package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	backfilldomain "github.com/shelfsync/shelfsync/internal/backfill/domain"
	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/credential"
	eventdomain "github.com/shelfsync/shelfsync/internal/event/domain"
	"github.com/shelfsync/shelfsync/internal/event/queue"
	inventorydomain "github.com/shelfsync/shelfsync/internal/inventory/domain"
	notifydomain "github.com/shelfsync/shelfsync/internal/notify/domain"
	"github.com/shelfsync/shelfsync/internal/observability"
	obsmiddleware "github.com/shelfsync/shelfsync/internal/observability/logger"
	relistdomain "github.com/shelfsync/shelfsync/internal/relist/domain"
	saledomain "github.com/shelfsync/shelfsync/internal/sale/domain"
	subscriptiondomain "github.com/shelfsync/shelfsync/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug: obsCfg.Debug(),
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
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
	log             *zap.Logger
	genID           *snowflake.Node
	queue           *queue.Queue
	vault           *credential.Vault
	eventSvc        eventdomain.Service
	inventorySvc    inventorydomain.Service
	saleSvc         saledomain.Service
	notifySvc       notifydomain.Service
	subscriptionSvc subscriptiondomain.Service
	backfillSvc     backfilldomain.Service
	relistSvc       relistdomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	GenID           *snowflake.Node
	Queue           *queue.Queue
	Vault           *credential.Vault
	EventSvc        eventdomain.Service
	InventorySvc    inventorydomain.Service
	SaleSvc         saledomain.Service
	NotifySvc       notifydomain.Service
	SubscriptionSvc subscriptiondomain.Service
	BackfillSvc     backfilldomain.Service
	RelistSvc       relistdomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("server"),
		genID:           p.GenID,
		queue:           p.Queue,
		vault:           p.Vault,
		eventSvc:        p.EventSvc,
		inventorySvc:    p.InventorySvc,
		saleSvc:         p.SaleSvc,
		notifySvc:       p.NotifySvc,
		subscriptionSvc: p.SubscriptionSvc,
		backfillSvc:     p.BackfillSvc,
		relistSvc:       p.RelistSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.engine

	hooks := r.Group("/webhooks/marketplace")
	{
		hooks.GET("", s.handleJSONHandshake)
		hooks.POST("", s.handleJSONWebhook)
		hooks.GET("/platform", s.handlePlatformHandshake)
		hooks.POST("/platform", s.handlePlatformWebhook)
	}

	api := r.Group("/api/v1")
	users := api.Group("/users/:user_id")
	{
		users.PUT("/connection", s.handleConnect)
		users.DELETE("/connection", s.handleDisconnect)

		users.GET("/items/:listing_id", s.handleGetItem)

		users.GET("/sales/orphans", s.handleListOrphanSales)
		users.POST("/sales/rematch", s.handleRematchAll)
		users.POST("/sales/:sale_id/rematch", s.handleRematchSale)

		users.GET("/events/failed", s.handleListFailedEvents)
		users.POST("/events/:event_id/replay", s.handleReplayEvent)

		users.POST("/backfill", s.handleStartBackfill)
		users.GET("/backfill", s.handleBackfillStatus)
		users.DELETE("/backfill", s.handleAbortBackfill)

		users.GET("/relist-rules", s.handleListRelistRules)
		users.POST("/relist-rules", s.handleUpsertRelistRule)
		users.DELETE("/relist-rules/:rule_id", s.handleDeleteRelistRule)
		users.GET("/relist-rules/:rule_id/history", s.handleRelistHistory)

		users.GET("/subscriptions", s.handleListSubscriptions)
		users.POST("/subscriptions", s.handleEnsureSubscriptions)

		users.GET("/notifications", s.handleListNotifications)
		users.POST("/notifications/:notification_id/read", s.handleMarkNotificationRead)
	}
}

func (s *Server) userID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param("user_id"))
	if err != nil || id == 0 {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}

func parseID(c *gin.Context, param string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param(param))
	if err != nil || id == 0 {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}
