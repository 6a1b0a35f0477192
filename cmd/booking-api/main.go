package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prohmpiriya/aievent-booking/internal/di"
	"github.com/prohmpiriya/aievent-booking/internal/metrics"
	"github.com/prohmpiriya/aievent-booking/pkg/config"
	"github.com/prohmpiriya/aievent-booking/pkg/logger"
	"github.com/prohmpiriya/aievent-booking/pkg/middleware"
	pkgredis "github.com/prohmpiriya/aievent-booking/pkg/redis"
	"github.com/prohmpiriya/aievent-booking/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level := "info"
	if cfg.App.Debug {
		level = "debug"
	}
	if err := logger.Init(&logger.Config{
		Level:       level,
		ServiceName: "booking-api",
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting booking API", zap.String("version", cfg.App.Version), zap.String("store", cfg.App.Store))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Telemetry disabled", zap.Error(err))
	}

	store, db, err := di.OpenStore(ctx, cfg)
	if err != nil {
		appLog.Fatal("Failed to open store", zap.Error(err))
	}
	if db != nil {
		defer db.Close()
	}

	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, pkgredis.FromConfig(&cfg.Redis))
		if err != nil {
			appLog.Warn("Redis connection failed, idempotency keys disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	producer := di.ConnectKafka(ctx, cfg)
	if producer != nil {
		defer producer.Close()
	}

	embedWorker := cfg.Issuance.EmbeddedWorker || cfg.App.Store == "memory"
	container, err := di.NewContainer(&di.ContainerConfig{
		Config:      cfg,
		DB:          db,
		Redis:       redisClient,
		Producer:    producer,
		Store:       store,
		EmbedWorker: embedWorker,
	})
	if err != nil {
		appLog.Fatal("Failed to build container", zap.Error(err))
	}

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		telemetry.TracingMiddleware(),
		metrics.Middleware(),
		middleware.AccessLog(appLog),
	)

	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", middleware.RequireUser())
	{
		bookings := v1.Group("/bookings")
		create := []gin.HandlerFunc{container.BookingHandler.CreateBooking}
		cancel := []gin.HandlerFunc{container.BookingHandler.CancelBooking}
		if redisClient != nil {
			idem := middleware.Idempotency(middleware.DefaultIdempotencyConfig(redisClient.Client()))
			create = append([]gin.HandlerFunc{idem}, create...)
			cancel = append([]gin.HandlerFunc{idem}, cancel...)
		}
		bookings.POST("", create...)
		bookings.POST("/:id/cancel", cancel...)
		bookings.GET("/:id", container.BookingHandler.GetBooking)

		admin := v1.Group("/admin", middleware.RequireRole("admin"))
		admin.POST("/bookings/:id/reissue", container.AdminHandler.ReissueTickets)
		admin.GET("/bookings/failed-issuance", container.AdminHandler.ListFailedIssuance)
		admin.GET("/worker", container.AdminHandler.WorkerStatus)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLog.Info("Booking API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if embedWorker {
		if err := container.OutboxWorker.Start(gctx); err != nil {
			appLog.Fatal("Failed to start outbox worker", zap.Error(err))
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		appLog.Info("Shutting down booking API...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if embedWorker {
			container.OutboxWorker.Stop()
		}
		if tErr := telemetry.Shutdown(shutdownCtx); tErr != nil {
			appLog.Warn("Telemetry shutdown failed", zap.Error(tErr))
		}
		return err
	})

	if err := g.Wait(); err != nil {
		appLog.Error("Booking API stopped with error", zap.Error(err))
		return
	}
	appLog.Info("Booking API exited gracefully")
}
