package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/facilitycore/internal/authorization"
	"github.com/smallbiznis/facilitycore/internal/config"
	externalservicedomain "github.com/smallbiznis/facilitycore/internal/externalservice/domain"
	instrumentdomain "github.com/smallbiznis/facilitycore/internal/instrument/domain"
	obslogger "github.com/smallbiznis/facilitycore/internal/observability/logger"
	obstracing "github.com/smallbiznis/facilitycore/internal/observability/tracing"
	pricepolicydomain "github.com/smallbiznis/facilitycore/internal/pricepolicy/domain"
	reservationdomain "github.com/smallbiznis/facilitycore/internal/reservation/domain"
	splitdomain "github.com/smallbiznis/facilitycore/internal/split/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
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

	Engine           *gin.Engine
	Cfg              config.Config
	Log              *zap.Logger
	Authz            authorization.Authorizer
	Reservations     reservationdomain.Service
	PricePolicies    pricepolicydomain.Service
	Instruments      instrumentdomain.Service
	Splits           splitdomain.Service
	ExternalServices externalservicedomain.Service
}

type Server struct {
	engine           *gin.Engine
	cfg              config.Config
	log              *zap.Logger
	authz            authorization.Authorizer
	reservations     reservationdomain.Service
	pricePolicies    pricepolicydomain.Service
	instruments      instrumentdomain.Service
	splits           splitdomain.Service
	externalServices externalservicedomain.Service
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:           p.Engine,
		cfg:              p.Cfg,
		log:              p.Log.Named("http.server"),
		authz:            p.Authz,
		reservations:     p.Reservations,
		pricePolicies:    p.PricePolicies,
		instruments:      p.Instruments,
		splits:           p.Splits,
		externalServices: p.ExternalServices,
	}
	s.RegisterAPIRoutes()
	return s
}

func (s *Server) RegisterAPIRoutes() {
	api := s.engine.Group("/api/v1")
	api.Use(CallerRequired())

	reservations := api.Group("/reservations")
	reservations.POST("", s.ScheduleReservation)
	reservations.GET("/:id", s.GetReservation)
	reservations.PATCH("/:id", s.UpdateReservation)
	reservations.GET("/:id/earliest", s.EarliestPossible)
	reservations.POST("/:id/move-to-earliest", s.MoveToEarliest)
	reservations.POST("/:id/start", s.StartReservation)
	reservations.POST("/:id/end", s.EndReservation)
	reservations.POST("/:id/cancel", s.CancelReservation)

	instruments := api.Group("/instruments")
	instruments.GET("/:id", s.GetInstrument)
	instruments.GET("/:id/status", s.InstrumentStatus)
	instruments.GET("/:id/problems", s.ListProblemReservations)

	policies := api.Group("/price-policies")
	policies.GET("/resolve", s.ResolvePricePolicy)
	policies.GET("/booking-window", s.BookingWindow)

	accounts := api.Group("/accounts")
	accounts.GET("/:id/splits", s.ListAccountSplits)
	accounts.PUT("/:id/splits", s.ReplaceAccountSplits)

	api.POST("/journal/preview", s.PreviewJournal)

	external := api.Group("/external-services")
	external.POST("", s.CreateExternalService)
	external.POST("/:id/receivers", s.AttachExternalService)
	api.GET("/receivers/:kind/:id/external-services", s.ListReceiverExternalServices)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func run(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:    s.cfg.HTTPAddr,
		Handler: s.engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			s.log.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
