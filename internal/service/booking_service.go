package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/prohmpiriya/aievent-booking/internal/domain"
	"github.com/prohmpiriya/aievent-booking/internal/dto"
	"github.com/prohmpiriya/aievent-booking/internal/metrics"
	"github.com/prohmpiriya/aievent-booking/internal/repository"
	"github.com/prohmpiriya/aievent-booking/pkg/logger"
	"github.com/prohmpiriya/aievent-booking/pkg/telemetry"
)

// BookingService defines the interface for booking business logic
type BookingService interface {
	// CreateBooking books the requested lines and pays for them from the
	// buyer's wallet in one atomic unit
	CreateBooking(ctx context.Context, userID string, req *dto.CreateBookingRequest) (*dto.BookingConfirmation, error)

	// ExecuteBooking is CreateBooking on already decoded lines
	ExecuteBooking(ctx context.Context, userID, eventID string, lines []domain.BookingLine) (*dto.BookingConfirmation, error)

	// CancelBooking cancels a confirmed booking and refunds per the refund policy
	CancelBooking(ctx context.Context, bookingID, userID string) (*dto.CancelBookingResponse, error)

	// GetBooking retrieves a booking owned by userID
	GetBooking(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error)

	// ReissueTickets requeues issuance for a booking whose issuance failed
	ReissueTickets(ctx context.Context, bookingID string) (*dto.ReissueResponse, error)

	// ListFailedIssuance lists bookings whose issuance gave up
	ListFailedIssuance(ctx context.Context, limit int) ([]*dto.BookingResponse, error)
}

// BookingServiceConfig contains configuration for booking service
type BookingServiceConfig struct {
	DefaultCurrency    string
	TransactionTimeout time.Duration
	MaxLines           int
	MaxQuantityPerLine int
	EventsTopic        string
	Refund             RefundPolicy
	Now                func() time.Time
}

type bookingService struct {
	uow    repository.UnitOfWorkFactory
	ledger *WalletLedger
	cfg    BookingServiceConfig
}

// NewBookingService creates a new booking service
func NewBookingService(uow repository.UnitOfWorkFactory, ledger *WalletLedger, cfg *BookingServiceConfig) BookingService {
	c := BookingServiceConfig{
		DefaultCurrency:    "VND",
		TransactionTimeout: 10 * time.Second,
		MaxLines:           20,
		MaxQuantityPerLine: 50,
		EventsTopic:        "booking-events",
		Refund:             DefaultRefundPolicy(),
		Now:                time.Now,
	}
	if cfg != nil {
		if cfg.DefaultCurrency != "" {
			c.DefaultCurrency = cfg.DefaultCurrency
		}
		if cfg.TransactionTimeout > 0 {
			c.TransactionTimeout = cfg.TransactionTimeout
		}
		if cfg.MaxLines > 0 {
			c.MaxLines = cfg.MaxLines
		}
		if cfg.MaxQuantityPerLine > 0 {
			c.MaxQuantityPerLine = cfg.MaxQuantityPerLine
		}
		if cfg.EventsTopic != "" {
			c.EventsTopic = cfg.EventsTopic
		}
		if cfg.Refund.FullRefundBefore > 0 {
			c.Refund = cfg.Refund
		}
		if cfg.Now != nil {
			c.Now = cfg.Now
		}
	}
	if ledger == nil {
		ledger = NewWalletLedger()
	}
	return &bookingService{uow: uow, ledger: ledger, cfg: c}
}

func newID() string {
	return uuid.NewString()
}

// CreateBooking books the requested lines for userID
func (s *bookingService) CreateBooking(ctx context.Context, userID string, req *dto.CreateBookingRequest) (*dto.BookingConfirmation, error) {
	if req == nil {
		return nil, domain.ErrEmptyBooking
	}
	return s.ExecuteBooking(ctx, userID, req.EventID, req.Lines())
}

// ExecuteBooking runs the whole checkout in one unit of work. Rows are
// locked in a fixed order: ticket types by id, then the wallet, then the
// event counters.
func (s *bookingService) ExecuteBooking(ctx context.Context, userID, eventID string, lines []domain.BookingLine) (confirmation *dto.BookingConfirmation, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.execute")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("event_id", eventID),
		attribute.Int("lines", len(lines)),
	)

	started := time.Now()
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
			metrics.TrackCheckout(domain.KindOf(err).String(), time.Since(started), 0)
			return
		}
		metrics.TrackCheckout("confirmed", time.Since(started), len(confirmation.Tickets))
	}()

	if userID == "" {
		return nil, domain.ErrUserNotFound
	}
	if eventID == "" {
		return nil, domain.ErrEventNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TransactionTimeout)
	defer cancel()

	uow, err := s.uow.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback(ctx)

	now := s.cfg.Now()

	if _, err := uow.Users().FindActiveByID(ctx, userID); err != nil {
		return nil, err
	}

	event, err := uow.Events().FindApprovedPublished(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := event.CheckBookable(now); err != nil {
		return nil, err
	}

	ordered, err := s.validateLines(lines)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(ordered))
	for i, l := range ordered {
		ids[i] = l.TicketTypeID
	}
	types, err := uow.TicketTypes().FindByIDsForUpdate(ctx, eventID, ids)
	if err != nil {
		return nil, err
	}
	if len(types) != len(ids) {
		return nil, domain.ErrInvalidTicketTypes
	}

	for _, l := range ordered {
		tt := types[l.TicketTypeID]
		if tt.RemainingQuantity < l.Quantity {
			return nil, fmt.Errorf("%w: %q has %d remaining, %d requested",
				domain.ErrInsufficientTickets, tt.Name, tt.RemainingQuantity, l.Quantity)
		}
	}

	booking := domain.NewBooking(userID, eventID, s.cfg.DefaultCurrency, now)
	for _, l := range lines {
		if _, err := booking.AddLine(types[l.TicketTypeID], l.Quantity, event, now); err != nil {
			return nil, err
		}
	}

	var wallet *domain.Wallet
	if !booking.IsFree() {
		wallet, err = s.ledger.Lock(ctx, uow, userID, booking.TotalAmount)
		if err != nil {
			return nil, err
		}
	}

	if err := uow.Bookings().Create(ctx, booking); err != nil {
		return nil, err
	}
	for _, l := range ordered {
		if err := uow.TicketTypes().Reserve(ctx, l.TicketTypeID, l.Quantity); err != nil {
			return nil, err
		}
	}
	if err := uow.Events().ApplySale(ctx, eventID, booking.TicketCount()); err != nil {
		return nil, err
	}

	var balanceAfter *decimal.Decimal
	if wallet != nil {
		payment, err := s.ledger.Debit(ctx, uow, wallet, booking, event, now)
		if err != nil {
			return nil, err
		}
		booking.MarkPaid(domain.PaymentMethodWallet, &payment.ID, now)
		balance := wallet.Balance
		balanceAfter = &balance
	} else {
		booking.MarkPaid(domain.PaymentMethodFree, nil, now)
	}
	if err := uow.Bookings().UpdateStatus(ctx, booking); err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, uow, booking, domain.EventTypeIssuanceRequested, now); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, uow, booking, domain.EventTypeBookingConfirmed, now); err != nil {
		return nil, err
	}

	if err := uow.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit booking: %w", err)
	}

	logger.Get().Ctx(ctx).Info("booking confirmed",
		zap.String("booking_id", booking.ID),
		zap.String("user_id", userID),
		zap.String("event_id", eventID),
		zap.Int("tickets", booking.TicketCount()),
		zap.String("total", booking.TotalAmount.StringFixed(2)),
	)

	return &dto.BookingConfirmation{
		BookingResponse: *dto.FromDomain(booking),
		BalanceAfter:    balanceAfter,
	}, nil
}

// validateLines checks the request shape and returns the lines ordered by
// ticket type id, the order rows are locked in
func (s *bookingService) validateLines(lines []domain.BookingLine) ([]domain.BookingLine, error) {
	if len(lines) == 0 {
		return nil, domain.ErrEmptyBooking
	}
	if len(lines) > s.cfg.MaxLines {
		return nil, domain.ErrTooManyLines
	}

	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		if l.TicketTypeID == "" {
			return nil, domain.ErrInvalidTicketTypes
		}
		if l.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		if l.Quantity > s.cfg.MaxQuantityPerLine {
			return nil, domain.ErrQuantityTooLarge
		}
		if _, dup := seen[l.TicketTypeID]; dup {
			return nil, domain.ErrDuplicateTicketType
		}
		seen[l.TicketTypeID] = struct{}{}
	}

	ordered := append([]domain.BookingLine(nil), lines...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].TicketTypeID < ordered[j].TicketTypeID })
	return ordered, nil
}

func (s *bookingService) enqueue(ctx context.Context, uow repository.UnitOfWork, b *domain.Booking, eventType string, now time.Time) error {
	var (
		msg *domain.OutboxMessage
		err error
	)
	if eventType == domain.EventTypeIssuanceRequested {
		msg, err = domain.NewIssuanceOutbox(b, s.cfg.EventsTopic, now)
	} else {
		msg, err = domain.NewBookingEventOutbox(eventType, b, b.TicketCount(), s.cfg.EventsTopic, now)
	}
	if err != nil {
		return fmt.Errorf("failed to build outbox message: %w", err)
	}
	return uow.Outbox().Create(ctx, msg)
}

// CancelBooking cancels a confirmed booking owned by userID
func (s *bookingService) CancelBooking(ctx context.Context, bookingID, userID string) (resp *dto.CancelBookingResponse, err error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.cancel")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("user_id", userID),
	)

	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
			metrics.TrackCancellation(domain.KindOf(err).String())
			return
		}
		metrics.TrackCancellation("cancelled")
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TransactionTimeout)
	defer cancel()

	uow, err := s.uow.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback(ctx)

	now := s.cfg.Now()

	booking, err := uow.Bookings().GetByIDForUpdate(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.UserID != userID {
		return nil, domain.ErrBookingNotFound
	}
	if err := booking.CanCancel(); err != nil {
		return nil, err
	}

	event, err := uow.Events().GetByID(ctx, booking.EventID)
	if err != nil {
		return nil, err
	}
	pct, refund, err := s.cfg.Refund.Quote(booking.TotalAmount, event.StartTime, now)
	if err != nil {
		return nil, err
	}

	items := append([]*domain.BookingItem(nil), booking.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].TicketTypeID < items[j].TicketTypeID })
	for _, it := range items {
		if err := uow.TicketTypes().Release(ctx, it.TicketTypeID, it.Quantity); err != nil {
			return nil, err
		}
	}

	if refund.IsPositive() {
		if _, err := s.ledger.Credit(ctx, uow, booking, refund, now); err != nil {
			return nil, err
		}
	}

	if err := uow.Events().ApplyRelease(ctx, booking.EventID, booking.TicketCount()); err != nil {
		return nil, err
	}
	if err := uow.Bookings().UpdateTicketsStatus(ctx, booking.ID, domain.TicketStatusRefunded); err != nil {
		return nil, err
	}
	if err := booking.Cancel(refund, now); err != nil {
		return nil, err
	}
	if err := uow.Bookings().UpdateStatus(ctx, booking); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, uow, booking, domain.EventTypeBookingCancelled, now); err != nil {
		return nil, err
	}

	if err := uow.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	logger.Get().Ctx(ctx).Info("booking cancelled",
		zap.String("booking_id", booking.ID),
		zap.Int("refund_percent", pct),
		zap.String("refund", refund.StringFixed(2)),
	)

	return &dto.CancelBookingResponse{
		BookingID:    booking.ID,
		Status:       string(booking.Status),
		RefundAmount: refund,
		RefundPct:    pct,
		Currency:     booking.Currency,
		CancelledAt:  now,
	}, nil
}

// GetBooking retrieves a booking owned by userID
func (s *bookingService) GetBooking(ctx context.Context, bookingID, userID string) (*dto.BookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.get")
	defer span.End()

	var booking *domain.Booking
	err := repository.WithinUnitOfWork(ctx, s.uow, func(uow repository.UnitOfWork) error {
		var err error
		booking, err = uow.Bookings().GetByID(ctx, bookingID)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if booking.UserID != userID {
		return nil, domain.ErrBookingNotFound
	}
	return dto.FromDomain(booking), nil
}

// ReissueTickets requeues issuance for a confirmed booking whose issuance failed
func (s *bookingService) ReissueTickets(ctx context.Context, bookingID string) (*dto.ReissueResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.reissue")
	defer span.End()

	now := s.cfg.Now()
	err := repository.WithinUnitOfWork(ctx, s.uow, func(uow repository.UnitOfWork) error {
		booking, err := uow.Bookings().GetByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if booking.Status != domain.BookingStatusConfirmed || booking.IssuanceStatus != domain.IssuanceStatusFailed {
			return fmt.Errorf("%w: booking is %s with issuance %s",
				domain.ErrIssuanceNotFailed, booking.Status, booking.IssuanceStatus)
		}
		if err := uow.Bookings().SetIssuanceStatus(ctx, booking.ID, domain.IssuanceStatusPending, ""); err != nil {
			return err
		}
		return s.enqueue(ctx, uow, booking, domain.EventTypeIssuanceRequested, now)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	logger.Get().Ctx(ctx).Info("ticket issuance requeued", zap.String("booking_id", bookingID))

	return &dto.ReissueResponse{
		BookingID:      bookingID,
		IssuanceStatus: string(domain.IssuanceStatusPending),
	}, nil
}

// ListFailedIssuance lists bookings whose issuance gave up
func (s *bookingService) ListFailedIssuance(ctx context.Context, limit int) ([]*dto.BookingResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var bookings []*domain.Booking
	err := repository.WithinUnitOfWork(ctx, s.uow, func(uow repository.UnitOfWork) error {
		var err error
		bookings, err = uow.Bookings().ListByIssuanceStatus(ctx, domain.IssuanceStatusFailed, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]*dto.BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, dto.FromDomain(b))
	}
	return out, nil
}
