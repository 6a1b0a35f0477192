package di

import (
	"fmt"

	"github.com/prohmpiriya/aievent-booking/internal/handler"
	"github.com/prohmpiriya/aievent-booking/internal/issuance"
	"github.com/prohmpiriya/aievent-booking/internal/repository"
	"github.com/prohmpiriya/aievent-booking/internal/service"
	"github.com/prohmpiriya/aievent-booking/internal/worker"
	"github.com/prohmpiriya/aievent-booking/pkg/config"
	"github.com/prohmpiriya/aievent-booking/pkg/database"
	"github.com/prohmpiriya/aievent-booking/pkg/kafka"
	"github.com/prohmpiriya/aievent-booking/pkg/redis"
	"github.com/prohmpiriya/aievent-booking/pkg/retry"
)

// Container holds all dependencies of the booking core
type Container struct {
	// Infrastructure
	DB       *database.PostgresDB
	Redis    *redis.Client
	Producer *kafka.Producer
	Store    repository.UnitOfWorkFactory

	// Services
	BookingService service.BookingService
	Pipeline       *issuance.Pipeline
	OutboxWorker   *worker.OutboxWorker

	// Handlers
	HealthHandler  *handler.HealthHandler
	BookingHandler *handler.BookingHandler
	AdminHandler   *handler.AdminHandler
}

// ContainerConfig contains configuration for building the container.
// DB, Redis and Producer are optional.
type ContainerConfig struct {
	Config   *config.Config
	DB       *database.PostgresDB
	Redis    *redis.Client
	Producer *kafka.Producer
	Store    repository.UnitOfWorkFactory
	// Mailer replaces the SMTP sender when set
	Mailer issuance.EmailSender
	// EmbedWorker exposes the in-process worker on the admin API
	EmbedWorker bool
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("a repository store is required")
	}
	app := cfg.Config

	c := &Container{
		DB:       cfg.DB,
		Redis:    cfg.Redis,
		Producer: cfg.Producer,
		Store:    cfg.Store,
	}

	c.BookingService = service.NewBookingService(c.Store, service.NewWalletLedger(), &service.BookingServiceConfig{
		DefaultCurrency:    app.Booking.DefaultCurrency,
		TransactionTimeout: app.Booking.TransactionTimeout,
		MaxLines:           app.Booking.MaxLines,
		MaxQuantityPerLine: app.Booking.MaxQuantityPerLine,
		EventsTopic:        app.Kafka.EventsTopic,
		Refund: service.RefundPolicy{
			FullRefundBefore:     app.Refund.FullRefundBefore,
			PartialRefundBefore:  app.Refund.PartialRefundBefore,
			PartialRefundPercent: app.Refund.PartialRefundPercent,
		},
	})

	signer, err := issuance.NewJWTSigner(app.Ticket.SigningSecret, app.Ticket.Issuer)
	if err != nil {
		return nil, err
	}
	mailer := cfg.Mailer
	if mailer == nil {
		mailer = issuance.NewSMTPSender(issuance.SMTPConfig{
			Host:     app.SMTP.Host,
			Port:     app.SMTP.Port,
			Username: app.SMTP.Username,
			Password: app.SMTP.Password,
			From:     app.SMTP.From,
			FromName: app.SMTP.FromName,
		})
	}
	c.Pipeline = issuance.NewPipeline(c.Store, signer, issuance.NewQRCodeService(0), issuance.NewFPDFRenderer(), mailer,
		&issuance.PipelineConfig{
			QRConcurrency: app.Issuance.QRConcurrency,
			StageTimeout:  app.Issuance.StageTimeout,
		})

	var (
		publisher worker.Publisher
		dlq       retry.DLQPublisher
	)
	if c.Producer != nil {
		publisher = c.Producer
		dlq = retry.NewKafkaDLQPublisher(c.Producer, &retry.DLQConfig{TopicSuffix: ".dlq", Source: app.App.Name})
	}
	c.OutboxWorker = worker.NewOutboxWorker(c.Store, c.Pipeline, publisher, dlq, &worker.OutboxWorkerConfig{
		PollInterval: app.Issuance.PollInterval,
		BatchSize:    app.Issuance.BatchSize,
		Lease:        app.Issuance.Lease,
		MaxAttempts:  app.Issuance.MaxAttempts,
		Backoff: &retry.Config{
			InitialInterval: app.Issuance.InitialBackoff,
			MaxInterval:     app.Issuance.MaxBackoff,
			Multiplier:      2,
			JitterFactor:    0.1,
		},
		CleanupInterval:      app.Issuance.CleanupInterval,
		CleanupRetentionDays: app.Issuance.CleanupRetentionDays,
	})

	checks := map[string]handler.HealthChecker{"database": nil, "redis": nil, "kafka": nil}
	if c.DB != nil {
		checks["database"] = c.DB
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis
	}
	if c.Producer != nil {
		checks["kafka"] = c.Producer
	}
	c.HealthHandler = handler.NewHealthHandler(checks)
	c.BookingHandler = handler.NewBookingHandler(c.BookingService)

	var stats handler.WorkerStats
	if cfg.EmbedWorker {
		stats = c.OutboxWorker
	}
	c.AdminHandler = handler.NewAdminHandler(c.BookingService, stats)

	return c, nil
}
