package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
	"github.com/prohmpiriya/aievent-booking/internal/issuance"
	"github.com/prohmpiriya/aievent-booking/internal/metrics"
	"github.com/prohmpiriya/aievent-booking/internal/repository"
	"github.com/prohmpiriya/aievent-booking/pkg/kafka"
	"github.com/prohmpiriya/aievent-booking/pkg/logger"
	"github.com/prohmpiriya/aievent-booking/pkg/retry"
)

// Publisher publishes relayed outbox messages
type Publisher interface {
	Produce(ctx context.Context, msg *kafka.Message) error
}

// Issuer delivers the tickets of a committed booking
type Issuer interface {
	Issue(ctx context.Context, bookingID string) error
}

// OutboxWorkerConfig contains configuration for the outbox worker
type OutboxWorkerConfig struct {
	// PollInterval is the interval between polling for due messages
	PollInterval time.Duration
	// BatchSize is the number of messages claimed in each poll
	BatchSize int
	// Concurrency bounds how many claimed messages are handled at once
	Concurrency int
	// Lease hides a claimed message from other workers until it expires.
	// It is renewed every Lease/3 while the message is being handled.
	Lease time.Duration
	// MaxAttempts overrides the per-message limit when positive
	MaxAttempts int
	// Backoff schedules the next attempt after a failure
	Backoff *retry.Config
	// CleanupInterval is the interval between cleanup of old published messages
	CleanupInterval time.Duration
	// CleanupRetentionDays is the number of days to retain published messages
	CleanupRetentionDays int
	Now                  func() time.Time
}

// DefaultOutboxWorkerConfig returns default configuration
func DefaultOutboxWorkerConfig() *OutboxWorkerConfig {
	return &OutboxWorkerConfig{
		PollInterval:         500 * time.Millisecond,
		BatchSize:            50,
		Concurrency:          4,
		Lease:                5 * time.Minute,
		MaxAttempts:          domain.DefaultOutboxMaxRetries,
		Backoff:              retry.DefaultConfig(),
		CleanupInterval:      1 * time.Hour,
		CleanupRetentionDays: 7,
		Now:                  time.Now,
	}
}

// OutboxWorker relays outbox messages: issuance requests run the ticket
// pipeline, everything else is published to Kafka
type OutboxWorker struct {
	uow       repository.UnitOfWorkFactory
	issuer    Issuer
	publisher Publisher
	dlq       retry.DLQPublisher
	config    *OutboxWorkerConfig
	log       *logger.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool

	published atomic.Int64
	failed    atomic.Int64
	dead      atomic.Int64
}

// NewOutboxWorker creates a new outbox worker. A nil publisher drops
// non-issuance messages after logging them; a nil dlq disables dead-lettering.
func NewOutboxWorker(
	uow repository.UnitOfWorkFactory,
	issuer Issuer,
	publisher Publisher,
	dlq retry.DLQPublisher,
	config *OutboxWorkerConfig,
) *OutboxWorker {
	def := DefaultOutboxWorkerConfig()
	if config == nil {
		config = def
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.Lease <= 0 {
		config.Lease = def.Lease
	}
	if config.Backoff == nil {
		config.Backoff = def.Backoff
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.CleanupRetentionDays <= 0 {
		config.CleanupRetentionDays = def.CleanupRetentionDays
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if publisher == nil {
		publisher = logPublisher{}
	}
	if dlq == nil {
		dlq = retry.NoOpDLQPublisher{}
	}

	return &OutboxWorker{
		uow:       uow,
		issuer:    issuer,
		publisher: publisher,
		dlq:       dlq,
		config:    config,
		log:       logger.Get(),
		stopCh:    make(chan struct{}),
	}
}

// Start starts the outbox worker
func (w *OutboxWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting outbox worker",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize))

	w.wg.Add(1)
	go w.pollDueMessages(ctx)

	w.wg.Add(1)
	go w.cleanupOldMessages(ctx)

	return nil
}

// Stop stops the outbox worker and waits for in-flight messages
func (w *OutboxWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping outbox worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Outbox worker stopped")
}

func (w *OutboxWorker) pollDueMessages(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				w.log.Error("Failed to process outbox batch", zap.Error(err))
			}
		}
	}
}

// ProcessBatch claims one batch of due messages and handles them. It
// returns how many messages were claimed.
func (w *OutboxWorker) ProcessBatch(ctx context.Context) (int, error) {
	var messages []*domain.OutboxMessage
	err := repository.WithinUnitOfWork(ctx, w.uow, func(uow repository.UnitOfWork) error {
		var err error
		messages, err = uow.Outbox().ClaimDue(ctx, w.config.Now(), w.config.Lease, w.config.BatchSize)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to claim outbox messages: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.Concurrency)
	for _, msg := range messages {
		g.Go(func() error {
			w.handle(gctx, msg)
			return nil
		})
	}
	_ = g.Wait()

	return len(messages), nil
}

func (w *OutboxWorker) handle(ctx context.Context, msg *domain.OutboxMessage) {
	log := w.log.Ctx(ctx).With(
		zap.String("message_id", msg.ID),
		zap.String("event_type", msg.EventType),
		zap.String("aggregate_id", msg.AggregateID))

	release := w.holdLease(ctx, msg.ID)
	dispatchErr := w.dispatch(ctx, msg)
	release()
	now := w.config.Now()

	if dispatchErr == nil {
		err := repository.WithinUnitOfWork(ctx, w.uow, func(uow repository.UnitOfWork) error {
			return uow.Outbox().MarkPublished(ctx, msg.ID, now)
		})
		if err != nil {
			log.Error("Failed to mark message as published", zap.Error(err))
			return
		}
		w.published.Add(1)
		metrics.TrackOutbox(msg.EventType, "published")
		return
	}

	if ctx.Err() != nil {
		// shutdown; the lease expires and another poll picks it up
		return
	}

	attempts := msg.RetryCount + 1
	if attempts >= w.maxAttempts(msg) {
		w.deadLetter(ctx, msg, dispatchErr, now)
		return
	}

	next := now.Add(w.config.Backoff.Backoff(msg.RetryCount))
	msg.MarkAsFailed(dispatchErr.Error(), next, now)
	err := repository.WithinUnitOfWork(ctx, w.uow, func(uow repository.UnitOfWork) error {
		return uow.Outbox().MarkFailed(ctx, msg)
	})
	if err != nil {
		log.Error("Failed to mark message as failed", zap.Error(err))
		return
	}
	w.failed.Add(1)
	metrics.TrackOutbox(msg.EventType, "failed")
	log.Warn("Outbox message failed, will retry",
		zap.Int("attempt", attempts),
		zap.Time("next_attempt_at", next),
		zap.String("stage", string(issuance.StageOf(dispatchErr))),
		zap.Error(dispatchErr))
}

// holdLease keeps msg hidden from other pollers until the returned func is
// called, so a slow issuance run is never picked up twice
func (w *OutboxWorker) holdLease(ctx context.Context, id string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.config.Lease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				until := w.config.Now().Add(w.config.Lease)
				err := repository.WithinUnitOfWork(ctx, w.uow, func(uow repository.UnitOfWork) error {
					return uow.Outbox().ExtendLease(ctx, id, until)
				})
				if err != nil && ctx.Err() == nil {
					w.log.Warn("Failed to extend outbox lease", zap.String("message_id", id), zap.Error(err))
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (w *OutboxWorker) dispatch(ctx context.Context, msg *domain.OutboxMessage) error {
	if msg.EventType == domain.EventTypeIssuanceRequested {
		var req domain.IssuanceRequested
		if err := msg.GetPayload(&req); err != nil {
			return fmt.Errorf("invalid issuance payload: %w", err)
		}
		if w.issuer == nil {
			return errors.New("no ticket issuer configured")
		}
		return w.issuer.Issue(ctx, req.BookingID)
	}

	return w.publisher.Produce(ctx, &kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.PartitionKey),
		Value: msg.Payload,
		Headers: map[string]string{
			"event_type":     msg.EventType,
			"aggregate_type": msg.AggregateType,
			"aggregate_id":   msg.AggregateID,
			"content_type":   "application/json",
			"source":         "outbox-worker",
		},
		Timestamp: w.config.Now(),
	})
}

// deadLetter makes the failure terminal. Issuance failures also flip the
// booking to IssuanceStatusFailed so an operator can reissue it.
func (w *OutboxWorker) deadLetter(ctx context.Context, msg *domain.OutboxMessage, cause error, now time.Time) {
	log := w.log.Ctx(ctx).With(zap.String("message_id", msg.ID), zap.String("event_type", msg.EventType))
	stage := issuance.StageOf(cause)

	firstAttempt := msg.CreatedAt
	msg.MarkAsDead(cause.Error(), now)
	err := repository.WithinUnitOfWork(ctx, w.uow, func(uow repository.UnitOfWork) error {
		if err := uow.Outbox().MarkDead(ctx, msg); err != nil {
			return err
		}
		if msg.EventType != domain.EventTypeIssuanceRequested {
			return nil
		}
		reason := cause.Error()
		if stage != "" {
			reason = fmt.Sprintf("%s: %s", stage, reason)
		}
		return uow.Bookings().SetIssuanceStatus(ctx, msg.AggregateID, domain.IssuanceStatusFailed, reason)
	})
	if err != nil {
		log.Error("Failed to mark message as dead", zap.Error(err))
		return
	}
	w.dead.Add(1)
	metrics.TrackOutbox(msg.EventType, "dead")

	log.Error("Outbox message moved to dead letter",
		zap.String("booking_id", msg.AggregateID),
		zap.String("stage", string(stage)),
		zap.Int("attempts", msg.RetryCount),
		zap.Error(cause))

	dlqErr := w.dlq.PublishToDLQ(ctx, &retry.DLQMessage{
		ID:             msg.ID,
		OriginalTopic:  msg.Topic,
		OriginalKey:    msg.PartitionKey,
		EventType:      msg.EventType,
		Payload:        msg.Payload,
		Error:          cause.Error(),
		Stage:          string(stage),
		Attempts:       msg.RetryCount,
		FirstAttemptAt: firstAttempt,
		LastAttemptAt:  now,
		Metadata:       map[string]string{"aggregate_id": msg.AggregateID},
	})
	if dlqErr != nil {
		log.Error("Failed to publish to DLQ", zap.Error(dlqErr))
	}
}

func (w *OutboxWorker) maxAttempts(msg *domain.OutboxMessage) int {
	if w.config.MaxAttempts > 0 {
		return w.config.MaxAttempts
	}
	if msg.MaxRetries > 0 {
		return msg.MaxRetries
	}
	return domain.DefaultOutboxMaxRetries
}

func (w *OutboxWorker) cleanupOldMessages(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			deleted, err := w.Cleanup(ctx)
			if err != nil {
				w.log.Error("Failed to cleanup old messages", zap.Error(err))
			} else if deleted > 0 {
				w.log.Info("Cleaned up old published messages", zap.Int64("deleted", deleted))
			}
		}
	}
}

// Cleanup deletes published messages older than the retention window
func (w *OutboxWorker) Cleanup(ctx context.Context) (int64, error) {
	before := w.config.Now().AddDate(0, 0, -w.config.CleanupRetentionDays)
	var deleted int64
	err := repository.WithinUnitOfWork(ctx, w.uow, func(uow repository.UnitOfWork) error {
		var err error
		deleted, err = uow.Outbox().DeletePublished(ctx, before)
		return err
	})
	return deleted, err
}

// GetStats returns worker statistics
func (w *OutboxWorker) GetStats() *OutboxWorkerStats {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()

	return &OutboxWorkerStats{
		IsRunning: running,
		Published: w.published.Load(),
		Failed:    w.failed.Load(),
		Dead:      w.dead.Load(),
	}
}

// OutboxWorkerStats contains worker statistics
type OutboxWorkerStats struct {
	IsRunning bool  `json:"is_running"`
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
	Dead      int64 `json:"dead"`
}

type logPublisher struct{}

func (logPublisher) Produce(ctx context.Context, msg *kafka.Message) error {
	logger.Get().Ctx(ctx).Debug("kafka disabled, dropping event",
		zap.String("topic", msg.Topic),
		zap.String("event_type", msg.Headers["event_type"]))
	return nil
}
