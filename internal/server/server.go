// Package server exposes the HTTP surface: generation admission and reads,
// credit balance, the internal grant hook and the callback endpoint external
// pipelines report into.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/inkflow-ai/inkflow/internal/callback"
	"github.com/inkflow-ai/inkflow/internal/config"
	creditsdomain "github.com/inkflow-ai/inkflow/internal/credits/domain"
	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	obsmiddleware "github.com/inkflow-ai/inkflow/internal/observability/logger"
	obstracing "github.com/inkflow-ai/inkflow/internal/observability/tracing"
	"github.com/inkflow-ai/inkflow/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(log))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Config    config.Config
	Engine    *gin.Engine
	GenSvc    generationdomain.Service
	CreditSvc creditsdomain.Service
	Callbacks *callback.Router
	Limiter   *ratelimit.GenerateLimiter `optional:"true"`
}

type Server struct {
	log       *zap.Logger
	cfg       config.Config
	engine    *gin.Engine
	gensvc    generationdomain.Service
	creditsvc creditsdomain.Service
	callbacks *callback.Router
	limiter   *ratelimit.GenerateLimiter
}

func NewServer(p Params) *Server {
	s := &Server{
		log:       p.Log.Named("http.server"),
		cfg:       p.Config,
		engine:    p.Engine,
		gensvc:    p.GenSvc,
		creditsvc: p.CreditSvc,
		callbacks: p.Callbacks,
		limiter:   p.Limiter,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/callbacks/generations", s.CallbackGuard(), s.HandleGenerationCallback)

	authed := v1.Group("", s.UserAuth())
	authed.POST("/generations", s.CreateGeneration)
	authed.GET("/generations/:id", s.GetGeneration)
	authed.GET("/credits/balance", s.GetCreditBalance)

	internal := s.engine.Group("/internal", s.CallbackGuard())
	internal.POST("/credits/grants", s.GrantCredits)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)
