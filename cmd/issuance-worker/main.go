package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prohmpiriya/aievent-booking/internal/di"
	"github.com/prohmpiriya/aievent-booking/pkg/config"
	"github.com/prohmpiriya/aievent-booking/pkg/logger"
	"github.com/prohmpiriya/aievent-booking/pkg/telemetry"
)

// The worker exposes health and metrics on the API port + 1000
const metricsPortOffset = 1000

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
		ServiceName: "issuance-worker",
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	if cfg.App.Store != "postgres" {
		appLog.Fatal("The standalone worker needs APP_STORE=postgres; the memory store only works with the embedded worker")
	}
	appLog.Info("Starting issuance worker", zap.String("version", cfg.App.Version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName + "-worker",
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
	defer db.Close()

	producer := di.ConnectKafka(ctx, cfg)
	if producer != nil {
		defer producer.Close()
	}

	container, err := di.NewContainer(&di.ContainerConfig{
		Config:   cfg,
		DB:       db,
		Producer: producer,
		Store:    store,
	})
	if err != nil {
		appLog.Fatal("Failed to build container", zap.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, container.OutboxWorker.GetStats())
	})

	srv := &http.Server{
		Addr:              cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port+metricsPortOffset),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := container.OutboxWorker.Start(ctx); err != nil {
		appLog.Fatal("Failed to start outbox worker", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLog.Info("Worker probes listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLog.Info("Shutting down issuance worker...")
		container.OutboxWorker.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if tErr := telemetry.Shutdown(shutdownCtx); tErr != nil {
			appLog.Warn("Telemetry shutdown failed", zap.Error(tErr))
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLog.Error("Issuance worker stopped with error", zap.Error(err))
		return
	}
	appLog.Info("Issuance worker exited gracefully")
}
