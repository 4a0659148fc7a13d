package server

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/craftlane/craftlane/internal/booking/domain"
	"github.com/craftlane/craftlane/internal/config"
	escrowdomain "github.com/craftlane/craftlane/internal/escrow/domain"
	orderdomain "github.com/craftlane/craftlane/internal/order/domain"
	timelinedomain "github.com/craftlane/craftlane/internal/timeline/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewEngine builds the gin engine with the health and metrics endpoints.
func NewEngine(registry *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	GenID       *snowflake.Node
	BookingSvc  bookingdomain.Service
	OrderSvc    orderdomain.Service
	EscrowSvc   escrowdomain.Service
	TimelineSvc timelinedomain.Service
}

// Server exposes the escrow and fulfillment operations to orchestrating
// callers: the booking flow, the admin console and retried payment webhooks.
type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	genID       *snowflake.Node
	bookingSvc  bookingdomain.Service
	orderSvc    orderdomain.Service
	escrowSvc   escrowdomain.Service
	timelineSvc timelinedomain.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("server"),
		genID:       p.GenID,
		bookingSvc:  p.BookingSvc,
		orderSvc:    p.OrderSvc,
		escrowSvc:   p.EscrowSvc,
		timelineSvc: p.TimelineSvc,
	}
}

// RunHTTP starts the HTTP listener under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
