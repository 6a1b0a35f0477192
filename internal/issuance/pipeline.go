package issuance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
	"github.com/prohmpiriya/aievent-booking/internal/metrics"
	"github.com/prohmpiriya/aievent-booking/internal/repository"
	"github.com/prohmpiriya/aievent-booking/pkg/logger"
	"github.com/prohmpiriya/aievent-booking/pkg/retry"
	"github.com/prohmpiriya/aievent-booking/pkg/telemetry"
)

// PipelineConfig contains configuration for the issuance pipeline
type PipelineConfig struct {
	// QRConcurrency bounds the per-ticket sign+render fan-out
	QRConcurrency int
	// StageTimeout bounds each external call
	StageTimeout time.Duration
	// EmailRetry is the in-process retry for the email stage
	EmailRetry *retry.Config
	Now        func() time.Time
}

// Pipeline delivers the tickets of a committed booking: sign, QR, PDF,
// email. It never holds a database transaction across external calls.
type Pipeline struct {
	uow    repository.UnitOfWorkFactory
	signer TokenSigner
	qr     QRImageService
	pdf    PDFRenderer
	email  EmailSender
	cfg    PipelineConfig
}

// NewPipeline creates a new Pipeline
func NewPipeline(
	uow repository.UnitOfWorkFactory,
	signer TokenSigner,
	qr QRImageService,
	pdf PDFRenderer,
	email EmailSender,
	cfg *PipelineConfig,
) *Pipeline {
	c := PipelineConfig{
		QRConcurrency: 8,
		StageTimeout:  30 * time.Second,
		EmailRetry: &retry.Config{
			MaxRetries:      2,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2,
			JitterFactor:    0.1,
		},
		Now: time.Now,
	}
	if cfg != nil {
		if cfg.QRConcurrency > 0 {
			c.QRConcurrency = cfg.QRConcurrency
		}
		if cfg.StageTimeout > 0 {
			c.StageTimeout = cfg.StageTimeout
		}
		if cfg.EmailRetry != nil {
			c.EmailRetry = cfg.EmailRetry
		}
		if cfg.Now != nil {
			c.Now = cfg.Now
		}
	}
	return &Pipeline{uow: uow, signer: signer, qr: qr, pdf: pdf, email: email, cfg: c}
}

// Issue runs the pipeline for bookingID. It is safe to call again after a
// failure: tickets that already carry a QR reference are not re-signed.
func (p *Pipeline) Issue(ctx context.Context, bookingID string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "issuance.pipeline.issue")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", bookingID))

	log := logger.Get().Ctx(ctx).With(zap.String("booking_id", bookingID))
	started := time.Now()
	defer func() {
		metrics.TrackIssuance(string(StageOf(err)), time.Since(started))
		if err != nil {
			telemetry.RecordError(span, err)
			log.Warn("ticket issuance failed", zap.String("stage", string(StageOf(err))), zap.Error(err))
		}
	}()

	fail := func(stage Stage, err error) error {
		return &StageError{Stage: stage, BookingID: bookingID, Err: err}
	}

	var (
		booking *domain.Booking
		buyer   *domain.User
	)
	err = repository.WithinUnitOfWork(ctx, p.uow, func(uow repository.UnitOfWork) error {
		var err error
		if booking, err = uow.Bookings().GetByID(ctx, bookingID); err != nil {
			return err
		}
		buyer, err = uow.Users().FindByID(ctx, booking.UserID)
		return err
	})
	if err != nil {
		return fail(StageLoad, err)
	}

	if booking.Status != domain.BookingStatusConfirmed {
		log.Info("skipping issuance for booking that is not confirmed", zap.String("status", string(booking.Status)))
		return nil
	}
	if booking.IssuanceStatus == domain.IssuanceStatusIssued {
		return nil
	}
	if len(booking.Tickets) == 0 {
		return fail(StageLoad, domain.ErrTicketNotFound)
	}

	fresh, err := p.renderArtifacts(ctx, booking.Tickets)
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			se.BookingID = bookingID
		}
		return err
	}

	if len(fresh) > 0 {
		err = repository.WithinUnitOfWork(ctx, p.uow, func(uow repository.UnitOfWork) error {
			for _, t := range fresh {
				if err := uow.Bookings().SaveTicketArtifacts(ctx, t); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fail(StagePersist, err)
		}
	}

	eventName := booking.Tickets[0].Snapshot.EventName

	pdfCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	doc, err := p.pdf.Render(pdfCtx, booking.Tickets, eventName, buyer.FullName, buyer.Email)
	cancel()
	if err != nil {
		return fail(StagePDF, err)
	}

	subject := fmt.Sprintf("Your tickets for %s", eventName)
	filename := fmt.Sprintf("tickets-%s.pdf", booking.ID)
	res := retry.DoWithCallback(ctx, p.cfg.EmailRetry, func(ctx context.Context) error {
		sendCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
		defer cancel()
		return p.email.SendWithAttachment(sendCtx, buyer.Email, subject, doc, filename, eventName)
	}, func(attempt int, err error, next time.Duration) {
		log.Warn("email send failed, retrying", zap.Int("attempt", attempt), zap.Duration("next", next), zap.Error(err))
	})
	if res.Err != nil {
		cause := res.LastError
		if cause == nil {
			cause = res.Err
		}
		return fail(StageEmail, cause)
	}

	err = repository.WithinUnitOfWork(ctx, p.uow, func(uow repository.UnitOfWork) error {
		return uow.Bookings().SetIssuanceStatus(ctx, bookingID, domain.IssuanceStatusIssued, "")
	})
	if err != nil {
		return fail(StageFinalize, err)
	}

	log.Info("tickets issued", zap.Int("tickets", len(booking.Tickets)), zap.Int("rendered", len(fresh)))
	return nil
}

// renderArtifacts signs and renders QR codes for tickets that have none,
// with at most QRConcurrency in flight. It returns the tickets it filled.
func (p *Pipeline) renderArtifacts(ctx context.Context, tickets []*domain.Ticket) ([]*domain.Ticket, error) {
	var pending []*domain.Ticket
	for _, t := range tickets {
		if !t.IsIssued() {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.QRConcurrency)

	now := p.cfg.Now()
	for _, t := range pending {
		g.Go(func() error {
			token, err := p.signer.Sign(t.ID, now)
			if err != nil {
				return &StageError{Stage: StageSign, Err: err}
			}

			qrCtx, cancel := context.WithTimeout(gctx, p.cfg.StageTimeout)
			defer cancel()
			ref, err := p.qr.Render(qrCtx, token)
			if err != nil {
				return &StageError{Stage: StageQR, Err: fmt.Errorf("ticket %s: %w", t.Code, err)}
			}

			t.AttachArtifacts(token, ref, now)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pending, nil
}
